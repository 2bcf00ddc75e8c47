package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// file command
var fileCmd = &cobra.Command{
	Use:   "file",
	Short: "Manage files inside a safebox",
}

var fileUploadCmd = &cobra.Command{
	Use:   "upload USER BOX LOCAL_PATH [REL_PATH]",
	Short: "Upload a local file",
	Args:  cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		var originalDate *time.Time
		if raw, _ := cmd.Flags().GetString("original-date"); raw != "" {
			t, err := parseTime(raw)
			if err != nil {
				return fmt.Errorf("invalid --original-date: %w", err)
			}
			originalDate = &t
		}

		a, err := newApp("file upload")
		if err != nil {
			return err
		}
		defer a.Close()

		rel := ""
		if len(args) == 4 {
			rel = args[3]
		}
		stored, err := a.UploadFile(args[0], args[1], args[2], rel, originalDate)
		if err != nil {
			return err
		}
		fmt.Printf("Stored %s\n", stored)
		return nil
	},
}

var fileDownloadCmd = &cobra.Command{
	Use:   "download USER BOX REL_PATH [DEST]",
	Short: "Download a stored file",
	Args:  cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("file download")
		if err != nil {
			return err
		}
		defer a.Close()

		dest := ""
		if len(args) == 4 {
			dest = args[3]
		}
		path, contentType, err := a.DownloadFile(args[0], args[1], args[2], dest)
		if err != nil {
			return err
		}
		fmt.Printf("Wrote %s (%s)\n", path, contentType)
		return nil
	},
}

var fileRmCmd = &cobra.Command{
	Use:   "rm USER BOX REL_PATH",
	Short: "Delete a file",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("file rm")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DeleteFile(args[0], args[1], args[2]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[2])
		return nil
	},
}

var fileMvCmd = &cobra.Command{
	Use:   "mv USER BOX REL_PATH NEW_NAME",
	Short: "Rename a file in place",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("file mv")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.RenameFile(args[0], args[1], args[2], args[3]); err != nil {
			return err
		}
		fmt.Printf("Renamed %s to %s\n", args[2], args[3])
		return nil
	},
}

// folder command
var folderCmd = &cobra.Command{
	Use:   "folder",
	Short: "Manage folders inside a safebox",
}

var folderMkdirCmd = &cobra.Command{
	Use:   "mkdir USER BOX REL_PATH",
	Short: "Create a folder and its parents",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("folder mkdir")
		if err != nil {
			return err
		}
		defer a.Close()

		dir, err := a.CreateFolder(args[0], args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Printf("Created %s\n", dir)
		return nil
	},
}

var folderRmCmd = &cobra.Command{
	Use:   "rm USER BOX REL_PATH",
	Short: "Delete a folder and its contents",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("folder rm")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DeleteFolder(args[0], args[1], args[2]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[2])
		return nil
	},
}

var folderMvCmd = &cobra.Command{
	Use:   "mv USER BOX REL_PATH NEW_NAME",
	Short: "Rename a folder in place",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("folder mv")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.RenameFolder(args[0], args[1], args[2], args[3]); err != nil {
			return err
		}
		fmt.Printf("Renamed %s to %s\n", args[2], args[3])
		return nil
	},
}

// parseTime accepts RFC 3339 timestamps or plain dates (UTC midnight).
func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, raw)
}

func init() {
	fileCmd.AddCommand(fileUploadCmd)
	fileUploadCmd.Flags().String("original-date", "", "Original capture date (RFC 3339 or YYYY-MM-DD)")
	fileCmd.AddCommand(fileDownloadCmd)
	fileCmd.AddCommand(fileRmCmd)
	fileCmd.AddCommand(fileMvCmd)

	folderCmd.AddCommand(folderMkdirCmd)
	folderCmd.AddCommand(folderRmCmd)
	folderCmd.AddCommand(folderMvCmd)

	rootCmd.AddCommand(fileCmd)
	rootCmd.AddCommand(folderCmd)
}
