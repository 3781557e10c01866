package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"smig-go/internal/app"
	"smig-go/internal/config"
	"smig-go/internal/smig"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a SmigApp. The caller must defer
// app.Close(). operation identifies the CLI command being run.
func newApp(ctx context.Context, operation string) (*app.SmigApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewSmigApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// resolveSites returns the site named by args[0], or all configured sites
// when no argument was given.
func resolveSites(a *app.SmigApp, args []string) ([]smig.Site, error) {
	if len(args) == 0 {
		sites := a.Sites()
		if len(sites) == 0 {
			return nil, fmt.Errorf("no sites configured")
		}
		return sites, nil
	}
	site, err := a.SiteByURL(args[0])
	if err != nil {
		return nil, err
	}
	return []smig.Site{site}, nil
}

var rootCmd = &cobra.Command{
	Use:   "smig",
	Short: "Site content migration and analysis tool",
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
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:  %s\n", cfg.LogDir)
		fmt.Printf("Blob:     %s\n", cfg.Blob.Type)
		fmt.Printf("Queue:    %s\n", cfg.Queue.Type)
		fmt.Printf("Database: %s\n", cfg.Database.Type)
		if len(cfg.Sites) == 0 {
			fmt.Println("Sites:    (none)")
			return nil
		}
		fmt.Println("Sites:")
		for _, s := range cfg.Sites {
			fmt.Printf("  %s\n", s.URL)
		}
		return nil
	},
}

var configSetTokenCmd = &cobra.Command{
	Use:   "set-token",
	Short: "Store the content source access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
		if cfg.Source.Auth != "file" {
			return fmt.Errorf("config uses %q auth; set-token only applies to file auth", cfg.Source.Auth)
		}
		if cfg.Source.TokenPath == "" {
			return fmt.Errorf("token_path is not configured")
		}

		fmt.Print("Token: ")
		token, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("reading token: %w", err)
		}
		if len(token) == 0 {
			return fmt.Errorf("empty token")
		}

		if err := os.MkdirAll(filepath.Dir(cfg.Source.TokenPath), 0755); err != nil {
			return fmt.Errorf("creating token directory: %w", err)
		}
		if err := os.WriteFile(cfg.Source.TokenPath, token, 0600); err != nil {
			return fmt.Errorf("writing token: %w", err)
		}

		fmt.Printf("Token stored at %s\n", cfg.Source.TokenPath)
		return nil
	},
}

// crawl command
var crawlCmd = &cobra.Command{
	Use:   "crawl [SITE_URL]",
	Short: "Crawl sites without migrating (dry run)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")

		a, err := newApp(cmd.Context(), "crawl")
		if err != nil {
			return err
		}
		defer a.Close()

		sites, err := resolveSites(a, args)
		if err != nil {
			return err
		}

		for _, site := range sites {
			result, err := a.CrawlSite(cmd.Context(), site)
			if err != nil {
				return fmt.Errorf("crawling %s: %w", site.URL, err)
			}
			fmt.Printf("%s: %d file(s), %d folder(s)\n", site.URL, len(result.FilesFound), len(result.FoldersFound))
			if verbose {
				for _, fd := range result.FilesFound {
					fmt.Printf("  %s\n", fd.FullURL())
				}
			}
		}
		return nil
	},
}

// migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate [SITE_URL]",
	Short: "Crawl sites and enqueue stale files for migration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "migrate")
		if err != nil {
			return err
		}
		defer a.Close()

		sites, err := resolveSites(a, args)
		if err != nil {
			return err
		}

		sent, err := a.MigrateSites(cmd.Context(), sites)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		fmt.Printf("Enqueued %d file(s) for migration\n", sent)
		return nil
	},
}

// worker command
var workerCmd = &cobra.Command{
	Use:   "worker SITE_URL",
	Short: "Consume the migration queue until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "worker")
		if err != nil {
			return err
		}
		defer a.Close()

		site, err := a.SiteByURL(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Worker running for %s (ctrl-c to stop)\n", site.URL)
		if err := a.RunWorker(cmd.Context(), site); err != nil && err != context.Canceled {
			return err
		}
		return nil
	},
}

// snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot SITE_URL",
	Short: "Build the analyzed snapshot of a site",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "snapshot")
		if err != nil {
			return err
		}
		defer a.Close()

		site, err := a.SiteByURL(args[0])
		if err != nil {
			return err
		}

		snap, err := a.BuildSnapshot(cmd.Context(), site)
		if err != nil {
			return fmt.Errorf("building snapshot: %w", err)
		}

		all := snap.AllFiles()
		completed := snap.CompletedFiles()
		errored := snap.ErroredFiles()
		fmt.Printf("Snapshot of %s:\n", site.URL)
		fmt.Printf("  Files:             %d\n", len(all))
		fmt.Printf("  Document libraries: %d\n", len(snap.DocumentLibraries()))
		fmt.Printf("  Analyzed:          %d\n", len(completed))
		fmt.Printf("  Errored:           %d\n", len(errored))
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "View queue depth and store totals",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "status")
		if err != nil {
			return err
		}
		defer a.Close()

		st, clientStats, err := a.Status(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Queue depth:    %d\n", st.QueueDepth)
		fmt.Printf("Files tracked:  %d\n", st.Store.Files)
		fmt.Printf("Files migrated: %d\n", st.Store.Migrated)
		fmt.Printf("Errors logged:  %d\n", st.Store.Errors)
		fmt.Printf("Requests:       %d completed, %d throttled\n", clientStats.Completed, clientStats.Throttled)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configSetTokenCmd)

	crawlCmd.Flags().BoolP("verbose", "v", false, "List every discovered file URL")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(statusCmd)
}
