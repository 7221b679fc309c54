package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"sbak/internal/app"
	"sbak/internal/config"
	"sbak/internal/engine"
	"sbak/internal/history"
	"sbak/internal/history/migrations"
	"sbak/internal/scheduler"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file from SBAK_CONFIG_PATH (or the
// default location), fills unset fields with defaults, and validates
// the result.
func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg.ApplyDefaults(defaults["base_dir"])

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates an App. The caller must defer a.Close().
func newApp(reporters ...engine.Reporter) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewApp(cfg, reporters...)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// promptPasswords asks for sftp passwords the config leaves empty,
// for the selected hosts (all hosts when none are named). Hosts with
// a key file configured are not prompted, and nothing is asked when
// stdin is not a terminal.
func promptPasswords(cfg *config.Config, hosts []string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}

	selected := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		selected[h] = true
	}
	_, invalid := cfg.CheckHosts()
	disabled := make(map[string]bool, len(invalid))
	for _, he := range invalid {
		disabled[he.Name] = true
	}

	for i, hc := range cfg.Hosts {
		if hc.Protocol != "sftp" || hc.Password != "" || hc.KeyFile != "" {
			continue
		}
		if len(selected) > 0 && !selected[hc.Name] {
			continue
		}
		if disabled[hc.Name] {
			continue
		}

		fmt.Printf("Password for %s@%s: ", hc.Username, hc.Addr)
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
		cfg.Hosts[i].Password = string(pw)
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "sbak",
	Short: "Incremental backup of remote hosts",
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup [HOST...]",
	Short: "Run one backup pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := promptPasswords(cfg, args); err != nil {
			return err
		}

		console := newConsoleReporter(cfg.Progress)
		a, err := app.NewApp(cfg, console)
		if err != nil {
			return fmt.Errorf("initializing app: %w", err)
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		report, err := a.RunBackup(ctx, args...)
		if err != nil {
			return err
		}

		console.Summary(report)
		if report.Failed() {
			return fmt.Errorf("backup finished with failures")
		}
		return nil
	},
}

// check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration and environment",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("getting defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
		cfg.ApplyDefaults(defaults["base_dir"])
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		fmt.Printf("Config OK: %s\n", defaults["config_path"])
		fmt.Printf("Backup root: %s\n", cfg.BackupRoot)
		fmt.Println("Hosts:")
		valid, invalid := cfg.CheckHosts()
		for _, h := range valid {
			fmt.Printf("  %-16s %-6s %d root(s)\n", h.Name, h.Protocol, len(h.Roots))
		}
		for _, he := range invalid {
			fmt.Printf("  %-16s %s\n", he.Name, styleFailed.Render("invalid: "+he.Err.Error()))
		}

		if cfg.Schedule.Enabled {
			s, err := scheduler.New(cfg.Schedule.Times, func(context.Context) {}, engine.NewNopLogger())
			if err != nil {
				return err
			}
			fmt.Printf("Schedule: daily at %s (next %s)\n",
				strings.Join(cfg.Schedule.Times, ", "),
				s.NextRun(time.Now()).Format("2006-01-02 15:04"))
		} else {
			fmt.Println("Schedule: disabled")
		}

		if cfg.History.Type == "sqlite" {
			dbPath := filepath.Join(cfg.History.DataDir, "history.db")
			if _, err := os.Stat(dbPath); os.IsNotExist(err) {
				fmt.Println("History: not created yet")
			} else {
				db, err := history.OpenConnection(dbPath)
				if err != nil {
					return err
				}
				defer db.Close()
				if err := migrations.CheckStatus(db); err != nil {
					fmt.Printf("History: %v\n", err)
				} else {
					fmt.Println("History: schema up to date")
				}
			}
		}

		if len(invalid) > 0 {
			return fmt.Errorf("%d host(s) have invalid configuration", len(invalid))
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View recorded backup passes",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		host, _ := cmd.Flags().GetString("host")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.History(cmd.Context(), host, limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No backup passes recorded.")
			return nil
		}

		for _, r := range runs {
			duration := r.FinishedAt.Sub(r.StartedAt).Truncate(time.Millisecond)
			fmt.Printf("%s  %-12s  %s  new:%d mod:%d del:%d failed:%d  %s  %s\n",
				r.StartedAt.Format("2006-01-02 15:04:05"),
				r.Host,
				renderStatus(r.Status),
				r.New, r.Modified, r.Deleted, r.Failed,
				formatBytes(r.Bytes),
				duration,
			)
			if r.Error != "" {
				fmt.Printf("    %s\n", styleFailed.Render(r.Error))
			}
		}
		return nil
	},
}

// schedule command
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run backups on the configured daily schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		once, _ := cmd.Flags().GetBool("once")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		console := newConsoleReporter(cfg.Progress)
		a, err := app.NewApp(cfg, console)
		if err != nil {
			return fmt.Errorf("initializing app: %w", err)
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if once {
			report, err := a.RunBackup(ctx)
			if err != nil {
				return err
			}
			console.Summary(report)
			if report.Failed() {
				return fmt.Errorf("backup finished with failures")
			}
			return nil
		}

		if !cfg.Schedule.Enabled {
			return fmt.Errorf("schedule is disabled in config")
		}

		sched, err := scheduler.New(cfg.Schedule.Times, func(ctx context.Context) {
			report, err := a.RunBackup(ctx)
			if err != nil {
				a.Logger().Error("scheduled backup failed", "error", err)
				return
			}
			console.Summary(report)
		}, a.Logger())
		if err != nil {
			return err
		}
		return sched.Run(ctx)
	},
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(filepath.Join(defaults["base_dir"], "backups"), defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Backup root: %s\n", cfg.BackupRoot)
		fmt.Println("Add [[hosts]] entries before running a backup.")
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
		cfg.ApplyDefaults(defaults["base_dir"])

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Backup root:    %s\n", cfg.BackupRoot)
		fmt.Printf("Log dir:        %s\n", cfg.LogDir)
		fmt.Printf("Max versions:   %d\n", cfg.MaxVersions)
		fmt.Printf("Delete removed: %v\n", cfg.DeleteRemoved)
		fmt.Printf("Workers:        %d host / %d transfer\n", cfg.HostWorkers, cfg.TransferWorkers)
		fmt.Printf("History:        %s\n", cfg.History.Type)
		if cfg.Schedule.Enabled {
			fmt.Printf("Schedule:       daily at %s\n", strings.Join(cfg.Schedule.Times, ", "))
		} else {
			fmt.Printf("Schedule:       disabled\n")
		}

		fmt.Println("Hosts:")
		for _, h := range cfg.Hosts {
			fmt.Printf("  %s (%s)\n", h.Name, h.Protocol)
			fmt.Printf("    roots: %s\n", strings.Join(h.Roots, ", "))
			if ex := cfg.HostExclude(h); len(ex) > 0 {
				fmt.Printf("    exclude: %s\n", strings.Join(ex, ", "))
			}
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of passes to show")
	historyCmd.Flags().String("host", "", "Only show passes for this host")
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.Flags().Bool("once", false, "Run a single pass immediately and exit")
}
