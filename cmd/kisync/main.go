package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"kisync/internal/app"
	"kisync/internal/config"
	"kisync/internal/model"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
func newApp(ctx context.Context) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// readPassphrase prompts on stderr and reads without echo when stdin is a
// terminal, otherwise reads a single line (for scripted use).
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return string(raw), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// unlockIfNeeded prompts for the store passphrase when encryption is on.
func unlockIfNeeded(a *app.App) error {
	if !a.EncryptionEnabled() {
		return nil
	}
	pass, err := readPassphrase("Passphrase: ")
	if err != nil {
		return err
	}
	return a.Unlock(pass)
}

var rootCmd = &cobra.Command{
	Use:   "kisync",
	Short: "Knowledge index synchronization",
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
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("Database:     %s\n", cfg.Database.Type)
		fmt.Printf("Object Store: %s\n", cfg.ObjectStore.Type)
		fmt.Printf("Index:        %s\n", cfg.Index.Type)
		fmt.Printf("Lock:         %s\n", cfg.Lock.Type)
		fmt.Printf("Encryption:   %s\n", cfg.Encryption.Type)
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate encryption keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.EncryptionEnabled() {
			return fmt.Errorf("encryption is not enabled in the configuration")
		}

		pass, err := readPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Confirm passphrase: ")
		if err != nil {
			return err
		}
		if pass != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := a.SetupEncryption(pass); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}

		fmt.Println("Encryption keys written.")
		return nil
	},
}

// container command
var containerCmd = &cobra.Command{
	Use:   "container",
	Short: "Manage containers",
}

var containerCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctype, _ := cmd.Flags().GetString("type")
		isIndex, _ := cmd.Flags().GetBool("index")
		isRemote, _ := cmd.Flags().GetBool("remote")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		c, err := a.CreateContainer(cmd.Context(), args[0], model.ContainerType(ctype), isIndex, isRemote)
		if err != nil {
			return fmt.Errorf("creating container: %w", err)
		}

		fmt.Printf("Created container %s (%s)\n", c.ID, c.Name)
		return nil
	},
}

var containerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List containers",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		containers, err := a.ListContainers(cmd.Context())
		if err != nil {
			return err
		}

		if len(containers) == 0 {
			fmt.Println("No containers.")
			return nil
		}

		for _, c := range containers {
			index := "-"
			if c.IsIndex {
				index = "local"
				if c.IsRemoteIndex {
					index = "remote"
				}
				if c.IndexID != "" {
					index += ":" + c.IndexID
				}
			}
			fmt.Printf("%s  %-10s  gen:%d  %-20s  %s\n", c.ID, c.Type, c.Generation, index, c.Name)
		}
		return nil
	},
}

// source command
var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Manage document sources",
}

var sourceAddCmd = &cobra.Command{
	Use:   "add CONTAINER-ID",
	Short: "Attach a document source to a container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stype, _ := cmd.Flags().GetString("type")
		name, _ := cmd.Flags().GetString("name")
		autoSync, _ := cmd.Flags().GetBool("auto-sync")

		var sourceCfg model.SourceConfig
		sourceCfg.RepoURL, _ = cmd.Flags().GetString("repo-url")
		sourceCfg.Branch, _ = cmd.Flags().GetString("branch")
		sourceCfg.FilePatterns, _ = cmd.Flags().GetStringSlice("pattern")
		sourceCfg.PathFilter, _ = cmd.Flags().GetString("path-filter")
		sourceCfg.BaseURL, _ = cmd.Flags().GetString("base-url")
		sourceCfg.SpaceKey, _ = cmd.Flags().GetString("space")
		sourceCfg.Label, _ = cmd.Flags().GetString("label")
		sourceCfg.Query, _ = cmd.Flags().GetString("query")
		sourceCfg.PageIDs, _ = cmd.Flags().GetStringSlice("page-id")
		sourceCfg.MaxPages, _ = cmd.Flags().GetInt("max-pages")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		src, err := a.AddSource(cmd.Context(), args[0], model.SourceType(stype), name, sourceCfg, autoSync)
		if err != nil {
			return fmt.Errorf("adding source: %w", err)
		}

		fmt.Printf("Added %s source %s (%s)\n", src.Type, src.ID, src.Name)
		return nil
	},
}

var sourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List document sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		sources, err := a.ListSources(cmd.Context())
		if err != nil {
			return err
		}

		if len(sources) == 0 {
			fmt.Println("No sources.")
			return nil
		}

		for _, s := range sources {
			lastSync := "never"
			if s.LastSync != nil {
				lastSync = s.LastSync.Format("2006-01-02 15:04:05")
			}
			auto := " "
			if s.AutoSync {
				auto = "A"
			}
			fmt.Printf("%s  %-10s  %s  container:%s  last:%s  %s\n",
				s.ID, s.Type, auto, s.ContainerID, lastSync, s.Name)
		}
		return nil
	},
}

var sourceValidateCmd = &cobra.Command{
	Use:   "validate SOURCE-ID",
	Short: "Validate a source configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ValidateSource(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}

		fmt.Println("Source configuration is valid.")
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize sources",
}

var syncRunCmd = &cobra.Command{
	Use:   "run SOURCE-ID",
	Short: "Sync one source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := unlockIfNeeded(a); err != nil {
			return err
		}

		res, err := a.SyncSource(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if !res.Success {
			fmt.Printf("Sync failed (run %s): %s\n", res.RunID, res.Err)
			return fmt.Errorf("sync failed")
		}
		fmt.Printf("Synced (run %s): +%d ~%d -%d\n", res.RunID, res.Added, res.Updated, res.Removed)
		return nil
	},
}

var syncAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Sync all auto-sync sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := unlockIfNeeded(a); err != nil {
			return err
		}

		results, err := a.SyncAll(cmd.Context())
		if err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Println("No sources due.")
			return nil
		}

		failed := 0
		for _, res := range results {
			if res.Success {
				fmt.Printf("%s  ok    +%d ~%d -%d\n", res.SourceID, res.Added, res.Updated, res.Removed)
			} else {
				failed++
				fmt.Printf("%s  fail  %s\n", res.SourceID, res.Err)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d sources failed", failed, len(results))
		}
		return nil
	},
}

var syncRetryCmd = &cobra.Command{
	Use:   "retry CONTAINER-ID",
	Short: "Retry failed uploads for a container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := unlockIfNeeded(a); err != nil {
			return err
		}

		report, err := a.RetryContainer(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("retry failed: %w", err)
		}

		fmt.Printf("Linked %d, failed %d\n", report.Linked, report.Failed)
		if report.Failed > 0 {
			return fmt.Errorf("%d membership(s) still failing", report.Failed)
		}
		return nil
	},
}

// index command
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage remote indexes",
}

var indexMigrateCmd = &cobra.Command{
	Use:   "migrate CONTAINER-ID",
	Short: "Migrate a container's index to another provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		targetType, _ := cmd.Flags().GetString("target")
		host, _ := cmd.Flags().GetString("qdrant-host")
		port, _ := cmd.Flags().GetInt("qdrant-port")
		dims, _ := cmd.Flags().GetInt("dims")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := unlockIfNeeded(a); err != nil {
			return err
		}

		target := config.IndexConfig{
			Type:          targetType,
			QdrantHost:    host,
			QdrantPort:    port,
			EmbeddingDims: dims,
		}

		if err := a.MigrateIndex(cmd.Context(), args[0], target); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		fmt.Println("Migration complete.")
		return nil
	},
}

// blob command
var blobCmd = &cobra.Command{
	Use:   "blob",
	Short: "Inspect stored blobs",
}

var blobCatCmd = &cobra.Command{
	Use:   "cat BLOB-ID",
	Short: "Print blob content to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := unlockIfNeeded(a); err != nil {
			return err
		}

		return a.CatBlob(cmd.Context(), args[0], os.Stdout)
	},
}

var blobSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Dispose of expired and orphaned retained blobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.SweepExpired(cmd.Context())
		if err != nil {
			return fmt.Errorf("sweep failed: %w", err)
		}

		fmt.Printf("Swept %d blob(s)\n", n)
		return nil
	},
}

// runs command
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "View sync run history",
}

var runsListCmd = &cobra.Command{
	Use:   "list SOURCE-ID",
	Short: "List sync runs for a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.ListRuns(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No sync runs recorded.")
			return nil
		}

		for _, r := range runs {
			duration := ""
			if r.FinishedAt != nil {
				duration = (time.Duration(r.DurationSeconds * float64(time.Second))).Truncate(time.Millisecond).String()
			}
			line := fmt.Sprintf("%s  %s  %-11s  +%d ~%d -%d  %s",
				r.ID,
				r.StartedAt.Format("2006-01-02 15:04:05"),
				r.Status,
				r.FilesAdded,
				r.FilesUpdated,
				r.FilesRemoved,
				duration,
			)
			if r.ErrorMessage != "" {
				line += "  " + r.ErrorMessage
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeysCmd)

	// container subcommands
	containerCmd.AddCommand(containerCreateCmd)
	containerCreateCmd.Flags().String("type", string(model.ContainerCollection), "Container type (collection or assistant)")
	containerCreateCmd.Flags().Bool("index", false, "Back the container with a search index")
	containerCreateCmd.Flags().Bool("remote", false, "Host the index at the remote provider")
	containerCmd.AddCommand(containerListCmd)

	// source subcommands
	sourceCmd.AddCommand(sourceAddCmd)
	sourceAddCmd.Flags().String("type", string(model.SourceRepository), "Source type (repository or wiki)")
	sourceAddCmd.Flags().String("name", "", "Human-readable source name")
	sourceAddCmd.Flags().Bool("auto-sync", false, "Include in `kisync sync all`")
	sourceAddCmd.Flags().String("repo-url", "", "Git repository URL")
	sourceAddCmd.Flags().String("branch", "", "Branch to clone (default branch when empty)")
	sourceAddCmd.Flags().StringSlice("pattern", nil, "File pattern, prefix with ! to exclude (repeatable)")
	sourceAddCmd.Flags().String("path-filter", "", "Restrict to a path prefix inside the repository")
	sourceAddCmd.Flags().String("base-url", "", "Wiki base URL")
	sourceAddCmd.Flags().String("space", "", "Wiki space key")
	sourceAddCmd.Flags().String("label", "", "Wiki label")
	sourceAddCmd.Flags().String("query", "", "Wiki CQL query")
	sourceAddCmd.Flags().StringSlice("page-id", nil, "Wiki page id (repeatable)")
	sourceAddCmd.Flags().Int("max-pages", 0, "Cap on pages fetched per sync (0 = unlimited)")
	sourceCmd.AddCommand(sourceListCmd)
	sourceCmd.AddCommand(sourceValidateCmd)

	// sync subcommands
	syncCmd.AddCommand(syncRunCmd)
	syncCmd.AddCommand(syncAllCmd)
	syncCmd.AddCommand(syncRetryCmd)

	// index subcommands
	indexCmd.AddCommand(indexMigrateCmd)
	indexMigrateCmd.Flags().String("target", "qdrant", "Target index provider (memory or qdrant)")
	indexMigrateCmd.Flags().String("qdrant-host", "localhost", "Target qdrant host")
	indexMigrateCmd.Flags().Int("qdrant-port", 6334, "Target qdrant gRPC port")
	indexMigrateCmd.Flags().Int("dims", 0, "Embedding dimensions (0 = default)")

	// blob subcommands
	blobCmd.AddCommand(blobCatCmd)
	blobCmd.AddCommand(blobSweepCmd)

	// runs subcommands
	runsCmd.AddCommand(runsListCmd)
	runsListCmd.Flags().IntP("limit", "n", 50, "Maximum number of runs to show")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(containerCmd)
	rootCmd.AddCommand(sourceCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(blobCmd)
	rootCmd.AddCommand(runsCmd)
}
