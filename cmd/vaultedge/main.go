package main

import (
	"fmt"
	"os"
	"time"

	"vaultedge/internal/app"
	"vaultedge/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "box create", "migrate").
func newApp(operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.New(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:          "vaultedge",
	Short:        "VaultEdge safebox storage administration",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration and the operation journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		instanceID := uuid.New().String()
		cfg := config.NewConfig(instanceID, defaults["base_dir"])

		if err := app.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Instance ID:  %s\n", instanceID)
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Storage Root: %s\n", cfg.Storage.Root)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Instance ID:  %s\n", cfg.InstanceID)
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("Storage Root: %s\n", cfg.Storage.Root)
		fmt.Printf("Mappings:     %s\n", cfg.Mappings.Type)
		fmt.Printf("Database:     %s\n", cfg.Database.Type)
		switch cfg.Export.Type {
		case "s3":
			fmt.Printf("Export:       s3://%s/%s\n", cfg.Export.S3Bucket, cfg.Export.S3Prefix)
		default:
			fmt.Printf("Export:       %s\n", cfg.Export.Dir)
		}
		if cfg.Export.Recipient != "" {
			fmt.Printf("Recipient:    %s\n", cfg.Export.Recipient)
		}
		return nil
	},
}

// user command
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user roots",
}

var userEnsureCmd = &cobra.Command{
	Use:   "ensure USER",
	Short: "Create the user's root directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("user ensure")
		if err != nil {
			return err
		}
		defer a.Close()

		root, err := a.EnsureUser(args[0])
		if err != nil {
			return err
		}
		fmt.Println(root)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View the operation journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("history")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.History(limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt.Valid {
				d := op.FinishedAt.Time.Sub(op.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-15s  %s  %-8s  %-8s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Local().Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
				op.Parameters,
			)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	userCmd.AddCommand(userEnsureCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
}
