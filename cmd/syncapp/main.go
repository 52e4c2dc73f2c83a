package main

import (
	"fmt"
	"os"
	"time"

	"syncapp/internal/app"
	"syncapp/internal/config"
	"syncapp/internal/core"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
func newApp() (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "syncapp",
	Short: "Synchronize file trees across local and cloud storage",
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

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
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
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Database:  %s (%s)\n", cfg.Database.Type, cfg.Database.DataDir)
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync [NAME]",
	Short: "Compare mapping sides and queue pending actions",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		if len(args) == 1 {
			res, err := a.SyncOne(ctx, args[0])
			if err != nil {
				return err
			}
			printPlanResult(args[0], res)
			return nil
		}

		results, err := a.SyncAll(ctx)
		for name, res := range results {
			printPlanResult(name, res)
		}
		return err
	},
}

func printPlanResult(name string, res *core.PlanResult) {
	fmt.Printf("%s: %d queued, %d already pending\n", name, res.Enqueued, res.Deduped)
	for _, ie := range res.ItemErrors {
		fmt.Printf("  skipped %s: %v\n", ie.URL, ie.Err)
	}
}

// proc command
var procCmd = &cobra.Command{
	Use:   "proc ID",
	Short: "Apply one pending action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var id int64
		if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
			return fmt.Errorf("invalid action id %q", args[0])
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		outcome, err := a.Process(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("action %d %s: %w", id, outcome, err)
		}
		fmt.Printf("action %d %s\n", id, outcome)
		return nil
	},
}

var procAllCmd = &cobra.Command{
	Use:   "proc-all",
	Short: "Apply every due pending action",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.ProcessAll(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%d applied, %d dropped, %d deferred, %d failed\n",
			res.Applied, res.Dropped, res.Deferred, res.Failed)
		for _, ie := range res.Errors {
			fmt.Printf("  %s: %v\n", ie.URL, ie.Err)
		}
		return nil
	},
}

// rm command
var rmCmd = &cobra.Command{
	Use:   "rm URL",
	Short: "Remove pending actions by source URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.RemovePending(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d pending action(s)\n", n)
		return nil
	},
}

// list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		acts, err := a.ListPending()
		if err != nil {
			return err
		}
		if len(acts) == 0 {
			fmt.Println("No pending actions.")
			return nil
		}
		for _, act := range acts {
			status := ""
			switch {
			case act.Failed:
				status = fmt.Sprintf("  [failed: %s]", act.LastError)
			case act.RetryCount > 0:
				status = fmt.Sprintf("  [retry %d at %s]", act.RetryCount,
					act.NextAttemptAt.Format("2006-01-02 15:04:05"))
			}
			fmt.Printf("#%d  %-6s  %s -> %s%s\n", act.ID, act.Kind, act.SrcURL, act.DstURL, status)
		}
		return nil
	},
}

// mappings command
var mappingsCmd = &cobra.Command{
	Use:   "mappings",
	Short: "List configured sync mappings",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ms, err := a.ListMappings()
		if err != nil {
			return err
		}
		if len(ms) == 0 {
			fmt.Println("No mappings configured.")
			return nil
		}
		for _, m := range ms {
			dir := "->"
			if m.Bidirectional {
				dir = "<->"
			}
			lastRun := "never"
			if !m.LastRun.IsZero() && m.LastRun.After(time.Unix(86400, 0)) {
				lastRun = m.LastRun.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%-20s  %s %s %s  (last run: %s)\n", m.Name, m.SrcURL, dir, m.DstURL, lastRun)
		}
		return nil
	},
}

// add-mapping command
var addMappingCmd = &cobra.Command{
	Use:   "add-mapping NAME SRC_URL DST_URL",
	Short: "Register a sync mapping",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		bidirectional, _ := cmd.Flags().GetBool("bidirectional")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		m, err := a.AddMapping(args[0], args[1], args[2], bidirectional)
		if err != nil {
			return err
		}
		fmt.Printf("Added mapping %s (#%d)\n", m.Name, m.ID)
		return nil
	},
}

// index command
var indexCmd = &cobra.Command{
	Use:   "index URL",
	Short: "Refresh the cache for everything under URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		count, itemErrs, err := a.IndexURL(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Indexed %d entries\n", count)
		for _, ie := range itemErrs {
			fmt.Printf("  skipped %s: %v\n", ie.URL, ie.Err)
		}
		return nil
	},
}

// cache command
var cacheCmd = &cobra.Command{
	Use:   "cache URL",
	Short: "Show cached records under URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		recs, err := a.ListCache(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No cached records.")
			return nil
		}
		for _, rec := range recs {
			deleted := ""
			if rec.DeletedAt != nil {
				deleted = "  [deleted]"
			}
			md5 := rec.MD5Sum
			if md5 == "" {
				md5 = "-"
			}
			fmt.Printf("%-32s  %10d  %s  %s%s\n", md5, rec.Size,
				time.Unix(rec.MTime, 0).UTC().Format("2006-01-02 15:04:05"), rec.URLName, deleted)
		}
		return nil
	},
}

// clear-entry command
var clearEntryCmd = &cobra.Command{
	Use:   "clear-entry URL",
	Short: "Drop an item's cached record, forcing a rehash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ClearEntry(args[0]); err != nil {
			return err
		}
		fmt.Printf("Cleared cache entry for %s\n", args[0])
		return nil
	},
}

// blacklist command
var blacklistCmd = &cobra.Command{
	Use:   "blacklist",
	Short: "Manage the exclusion blacklist",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		rules, err := a.ListBlacklist()
		if err != nil {
			return err
		}
		if len(rules) == 0 {
			fmt.Println("No blacklist rules.")
			return nil
		}
		for _, r := range rules {
			fmt.Println(r)
		}
		return nil
	},
}

var blacklistAddCmd = &cobra.Command{
	Use:   "add RULE",
	Short: "Add an exclusion rule (URL prefix or basename glob)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.AddBlacklistRule(args[0]); err != nil {
			return err
		}
		fmt.Printf("Added blacklist rule: %s\n", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	blacklistCmd.AddCommand(blacklistAddCmd)

	addMappingCmd.Flags().BoolP("bidirectional", "b", false, "Sync differences in both directions")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(procCmd)
	rootCmd.AddCommand(procAllCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(mappingsCmd)
	rootCmd.AddCommand(addMappingCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(clearEntryCmd)
	rootCmd.AddCommand(blacklistCmd)
}
