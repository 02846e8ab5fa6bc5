package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"tgdump-go/internal/app"
	"tgdump-go/internal/archive"
	"tgdump-go/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an ArchiveApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Sync", "VaultPull").
func newApp(cmd *cobra.Command, operation string) (*app.ArchiveApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}
	if err := app.LoadEnvFile(defaults["base_dir"]); err != nil {
		return nil, err
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	a, err := app.NewArchiveApp(cmd.Context(), cfg, operation, app.Options{Verbose: verbose})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:          "tgdump",
	Short:        "Incremental conversation archiver",
	SilenceUsage: true,
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

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Host ID: %s\n", hostID)
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
		fmt.Printf("Host ID:     %s\n", cfg.HostID)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Archive Dir: %s\n", cfg.ArchiveDir)
		fmt.Printf("Source:      %s %s\n", cfg.Source.Type, cfg.Source.BaseURL)
		fmt.Printf("Journal:     %s\n", cfg.Database.Type)
		for _, v := range cfg.Vaults {
			fmt.Printf("Vault:       %s (%s)\n", v.Name, v.Type)
		}
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the key pair used for vault copies",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "KeysInit")
		if err != nil {
			return err
		}
		defer a.Close()

		passphrase, err := readNewPassphrase()
		if err != nil {
			return err
		}
		if err := a.InitKeys(passphrase); err != nil {
			return err
		}

		fmt.Println("Encryption keys generated.")
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync CONVERSATION...",
	Short: "Archive new messages and reply threads",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Sync")
		if err != nil {
			return err
		}
		defer a.Close()

		opts, err := syncOptions(cmd, a.DefaultSyncOptions())
		if err != nil {
			return err
		}

		outcomes, syncErr := a.SyncAll(cmd.Context(), args, opts)
		for _, o := range outcomes {
			if o.Err != nil {
				fmt.Printf("%-20s  failed: %v\n", o.Name, o.Err)
				continue
			}
			printSyncResult(o.Name, o.Result)
		}
		if syncErr != nil {
			return fmt.Errorf("sync failed")
		}
		return nil
	},
}

// syncOptions applies the sync flags on top of the configured defaults.
func syncOptions(cmd *cobra.Command, opts archive.SyncOptions) (archive.SyncOptions, error) {
	flags := cmd.Flags()

	if raw, _ := flags.GetString("since"); raw != "" {
		since, err := parseSince(raw)
		if err != nil {
			return opts, err
		}
		opts.Since = &since
	}
	if flags.Changed("replies") {
		opts.FetchReplies, _ = flags.GetBool("replies")
	}
	if flags.Changed("no-replies") {
		noReplies, _ := flags.GetBool("no-replies")
		opts.FetchReplies = !noReplies
	}
	if flags.Changed("media") {
		opts.DownloadMedia, _ = flags.GetBool("media")
	}
	opts.DiscardOld, _ = flags.GetBool("fresh")
	return opts, nil
}

// parseSince accepts a date (2006-01-02, midnight UTC) or an RFC 3339 timestamp.
func parseSince(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid --since %q: want YYYY-MM-DD or an RFC 3339 timestamp", raw)
}

func printSyncResult(name string, r *archive.SyncResult) {
	stale := 0
	if r.Replies != nil {
		stale = r.Replies.Total
	}
	fmt.Printf("%-20s  listed %d  new %d  updated %d  threads %d  archived %d\n",
		name, r.Listed, r.New, r.Updated, stale, len(r.Snapshot))
	if m := r.Media; m.Downloaded+m.Skipped+m.Failed > 0 {
		fmt.Printf("%-20s  voice downloaded %d  present %d  failed %d\n", "", m.Downloaded, m.Skipped, m.Failed)
	}
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View sync pass history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "History")
		if err != nil {
			return err
		}
		defer a.Close()

		passes, err := a.History(limit)
		if err != nil {
			return err
		}

		if len(passes) == 0 {
			fmt.Println("No sync passes recorded.")
			return nil
		}

		for _, p := range passes {
			duration := ""
			if p.FinishedAt != nil {
				duration = p.FinishedAt.Sub(p.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-20s  %s  %-8s  %6d msgs  %4d threads  %8s  %s\n",
				p.ID,
				p.Conversation,
				p.StartedAt.Format("2006-01-02 15:04:05"),
				p.Status,
				p.Messages,
				p.StaleThreads,
				duration,
				p.Error,
			)
		}
		return nil
	},
}

// vault command
var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Mirror archives to and from the vault",
}

var vaultPushCmd = &cobra.Command{
	Use:   "push CONVERSATION_ID",
	Short: "Upload the local archive of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID, err := parseConversationID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "VaultPush")
		if err != nil {
			return err
		}
		defer a.Close()

		size, err := a.Push(convID)
		if err != nil {
			return err
		}
		fmt.Printf("Uploaded archive of %d (%d bytes)\n", convID, size)
		return nil
	},
}

var vaultPullCmd = &cobra.Command{
	Use:   "pull CONVERSATION_ID",
	Short: "Restore the archive of a conversation from the vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		convID, err := parseConversationID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "VaultPull")
		if err != nil {
			return err
		}
		defer a.Close()

		var passphrase string
		if a.NeedsPassphrase() {
			passphrase, err = readPassphrase("Passphrase: ")
			if err != nil {
				return err
			}
		}

		n, err := a.Pull(convID, passphrase, force)
		if err != nil {
			return err
		}
		fmt.Printf("Restored %d record(s) of %d\n", n, convID)
		return nil
	},
}

func parseConversationID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid conversation id %q", raw)
	}
	return id, nil
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug output")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// keys subcommands
	keysCmd.AddCommand(keysInitCmd)

	// vault subcommands
	vaultCmd.AddCommand(vaultPushCmd)
	vaultCmd.AddCommand(vaultPullCmd)
	vaultPullCmd.Flags().Bool("force", false, "Overwrite an existing local archive")

	// sync flags
	syncCmd.Flags().String("since", "", "Only list messages posted at or after this date (YYYY-MM-DD or RFC 3339)")
	syncCmd.Flags().Bool("replies", true, "Fetch reply threads that changed")
	syncCmd.Flags().Bool("no-replies", false, "Do not fetch reply threads")
	syncCmd.Flags().Bool("fresh", false, "Ignore the existing archive and rebuild it from this pass")
	syncCmd.Flags().Bool("media", false, "Download voice messages")
	syncCmd.MarkFlagsMutuallyExclusive("replies", "no-replies")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of passes to show")
	rootCmd.AddCommand(vaultCmd)
}
