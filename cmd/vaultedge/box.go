package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"vaultedge/internal/safebox"
)

// box command
var boxCmd = &cobra.Command{
	Use:   "box",
	Short: "Manage safeboxes",
}

var boxCreateCmd = &cobra.Command{
	Use:   "create USER BOX",
	Short: "Create a safebox",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("box create")
		if err != nil {
			return err
		}
		defer a.Close()

		dir, err := a.CreateSafeBox(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Created safebox %s at %s\n", args[1], dir)
		return nil
	},
}

var boxListCmd = &cobra.Command{
	Use:   "list USER",
	Short: "List a user's safeboxes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("box list")
		if err != nil {
			return err
		}
		defer a.Close()

		boxes, err := a.ListSafeBoxes(args[0])
		if err != nil {
			return err
		}
		if len(boxes) == 0 {
			fmt.Println("No safeboxes.")
			return nil
		}
		for _, b := range boxes {
			fmt.Println(b)
		}
		return nil
	},
}

var boxExistsCmd = &cobra.Command{
	Use:   "exists USER BOX",
	Short: "Check whether a safebox exists",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("box exists")
		if err != nil {
			return err
		}
		defer a.Close()

		ok, err := a.SafeBoxExists(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Println(ok)
		return nil
	},
}

var boxUsageCmd = &cobra.Command{
	Use:   "usage USER [BOX]",
	Short: "Show storage usage against capacity",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("box usage")
		if err != nil {
			return err
		}
		defer a.Close()

		box := ""
		if len(args) == 2 {
			box = args[1]
		}
		usage, err := a.Usage(args[0], box)
		if err != nil {
			return err
		}
		if len(usage) == 0 {
			fmt.Println("No safeboxes.")
			return nil
		}
		for _, u := range usage {
			pct := 0.0
			if u.CapacityBytes > 0 {
				pct = float64(u.UsedBytes) / float64(u.CapacityBytes) * 100
			}
			fmt.Printf("%-24s  %10s / %-10s  %5.1f%%  %d file(s)\n",
				u.SafeBox,
				humanize.IBytes(uint64(u.UsedBytes)),
				humanize.IBytes(uint64(u.CapacityBytes)),
				pct,
				u.FileCount,
			)
		}
		return nil
	},
}

var boxTreeCmd = &cobra.Command{
	Use:   "tree USER BOX",
	Short: "Show a safebox's folder tree",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("box tree")
		if err != nil {
			return err
		}
		defer a.Close()

		root, err := a.Tree(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("%s/\n", root.Name)
		printTree(root.Children, 1)
		return nil
	},
}

func printTree(nodes []*safebox.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, n := range nodes {
		if n.Type == safebox.NodeFolder {
			fmt.Printf("%s%s/\n", indent, n.Name)
			printTree(n.Children, depth+1)
			continue
		}
		size := ""
		if n.Size != nil {
			size = humanize.IBytes(uint64(*n.Size))
		}
		modified := ""
		if n.ModifiedAt != nil {
			modified = humanize.Time(*n.ModifiedAt)
		}
		fmt.Printf("%s%s  %s  %s\n", indent, n.Name, size, modified)
	}
}

var boxRetentionCmd = &cobra.Command{
	Use:   "retention USER BOX [DAYS]",
	Short: "Show or set the audit retention window",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		operation := "box retention"
		if len(args) == 3 {
			operation = "box retention set"
		}
		a, err := newApp(operation)
		if err != nil {
			return err
		}
		defer a.Close()

		if len(args) == 2 {
			days, err := a.RetentionDays(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("%d days\n", days)
			return nil
		}

		days, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid day count %q: %w", args[2], err)
		}
		stored, err := a.SetRetentionDays(args[0], args[1], days)
		if err != nil {
			return err
		}
		fmt.Printf("Retention set to %d days\n", stored)
		return nil
	},
}

func init() {
	boxCmd.AddCommand(boxCreateCmd)
	boxCmd.AddCommand(boxListCmd)
	boxCmd.AddCommand(boxExistsCmd)
	boxCmd.AddCommand(boxUsageCmd)
	boxCmd.AddCommand(boxTreeCmd)
	boxCmd.AddCommand(boxRetentionCmd)

	rootCmd.AddCommand(boxCmd)
}
