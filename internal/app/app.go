package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"tgdump-go/internal/archive"
	"tgdump-go/internal/config"
	"tgdump-go/internal/database"
	"tgdump-go/internal/encryption"
	"tgdump-go/internal/source"
	"tgdump-go/internal/store"
	"tgdump-go/internal/vault"
)

// ArchiveApp is the application layer between the CLI and archive.Service.
// It constructs all dependencies from config, exposes the operations the CLI
// needs, and releases the journal and log file on Close.
type ArchiveApp struct {
	cfg       *config.Config
	source    archive.MessageSource
	store     *store.JSONLStore
	journal   archive.Journal
	vault     archive.Vault
	encryptor archive.Encryptor
	service   *archive.Service
	op        *Operation
	logger    archive.Logger
	logFile   *os.File
}

// Options tunes an ArchiveApp beyond what the config file holds.
type Options struct {
	// Verbose enables debug logging.
	Verbose bool
}

// NewArchiveApp creates a fully wired ArchiveApp from the given config.
// operation names the CLI command being run (e.g. "Sync", "VaultPush").
// The caller must call Close when done.
func NewArchiveApp(ctx context.Context, cfg *config.Config, operation string, opts Options) (*ArchiveApp, error) {
	op := NewOperation(operation, time.Now())

	logger, logFile, err := newLogger(cfg.LogDir, op.ID, opts.Verbose)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	adapter := &slogAdapter{l: logger}

	a := &ArchiveApp{cfg: cfg, op: op, logger: adapter, logFile: logFile}
	if err := a.wire(ctx, adapter); err != nil {
		a.closeResources()
		return nil, err
	}

	adapter.Info("operation started", "operation", op.Name, "host", cfg.HostID)
	return a, nil
}

func (a *ArchiveApp) wire(ctx context.Context, logger archive.Logger) error {
	cfg := a.cfg

	src, err := source.NewSourceFromConfig(cfg.Source, logger)
	if err != nil {
		return fmt.Errorf("creating source: %w", err)
	}
	a.source = src

	st, err := store.NewJSONLStore(cfg.ArchiveDir)
	if err != nil {
		return fmt.Errorf("creating archive store: %w", err)
	}
	a.store = st

	journal, err := database.NewJournalFromConfig(cfg.Database, cfg.HostID)
	if err != nil {
		return fmt.Errorf("opening sync journal: %w", err)
	}
	a.journal = journal

	// Vaults are optional; syncing works without one.
	if len(cfg.Vaults) > 0 {
		v, err := vault.NewVaultFromConfig(ctx, cfg.Vaults[0])
		if err != nil {
			return fmt.Errorf("creating vault: %w", err)
		}
		a.vault = v
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	a.encryptor = enc

	deps := archive.Deps{
		Source:    src,
		Store:     st,
		Media:     st,
		Journal:   journal,
		Vault:     a.vault,
		Encryptor: enc,
		Logger:    logger,
		Cooldown:  cfg.Sync.Cooldown.Duration,
	}
	a.service = archive.NewService(deps)
	return nil
}

// Operation returns the operation this app was created for.
func (a *ArchiveApp) Operation() *Operation {
	return a.op
}

// DefaultSyncOptions returns the sync options configured in the config file.
func (a *ArchiveApp) DefaultSyncOptions() archive.SyncOptions {
	return archive.SyncOptions{
		FetchReplies:  a.cfg.Sync.FetchReplies,
		DownloadMedia: a.cfg.Sync.DownloadMedia,
	}
}

// SyncOutcome is the result of syncing one conversation as part of SyncAll.
type SyncOutcome struct {
	Name   string
	Result *archive.SyncResult
	Err    error
}

// SyncAll syncs every named conversation, at most sync.parallel at a time.
// A failing conversation does not stop the others; the returned error joins
// every failure. Repeated names are synced once, and outcomes follow the
// order in which names first appear.
func (a *ArchiveApp) SyncAll(ctx context.Context, names []string, opts archive.SyncOptions) ([]SyncOutcome, error) {
	names = uniqueNames(names)
	outcomes := make([]SyncOutcome, len(names))

	limit := a.cfg.Sync.Parallel
	if limit <= 0 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)

	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			result, err := a.service.Sync(ctx, name, opts)
			outcomes[i] = SyncOutcome{Name: name, Result: result, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Name, o.Err))
		}
	}
	if len(errs) > 0 {
		a.op.Fail()
		return outcomes, errors.Join(errs...)
	}
	return outcomes, nil
}

// uniqueNames drops repeated names so no two passes share an archive file.
func uniqueNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	unique := make([]string, 0, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		unique = append(unique, name)
	}
	return unique
}

// History returns the most recent sync passes.
func (a *ArchiveApp) History(limit int) ([]*archive.PassRecord, error) {
	passes, err := a.service.History(limit)
	if err != nil {
		a.op.Fail()
	}
	return passes, err
}

// InitKeys generates the encryption key pair, protecting the private key
// with passphrase.
func (a *ArchiveApp) InitKeys(passphrase string) error {
	if a.encryptor == nil {
		return fmt.Errorf("encryption is disabled in the config")
	}
	if err := a.encryptor.Setup(passphrase); err != nil {
		a.op.Fail()
		return fmt.Errorf("setting up keys: %w", err)
	}
	return nil
}

// NeedsPassphrase reports whether pulling from the vault requires unlocking
// the private key.
func (a *ArchiveApp) NeedsPassphrase() bool {
	return a.encryptor != nil
}

// Push uploads the local archive of a conversation to the vault.
func (a *ArchiveApp) Push(convID int64) (int64, error) {
	if err := a.checkVault(); err != nil {
		return 0, err
	}
	size, err := a.service.Mirror(&archive.Conversation{ID: convID})
	if err != nil {
		a.op.Fail()
	}
	return size, err
}

// Pull restores the archive of a conversation from the vault. passphrase is
// ignored when encryption is disabled.
func (a *ArchiveApp) Pull(convID int64, passphrase string, force bool) (int, error) {
	if err := a.checkVault(); err != nil {
		return 0, err
	}

	var dctx archive.DecryptionContext
	if a.encryptor != nil {
		var err error
		dctx, err = a.encryptor.Unlock(passphrase)
		if err != nil {
			a.op.Fail()
			return 0, fmt.Errorf("unlocking private key: %w", err)
		}
	}

	n, err := a.service.Restore(&archive.Conversation{ID: convID}, dctx, force)
	if err != nil {
		a.op.Fail()
	}
	return n, err
}

func (a *ArchiveApp) checkVault() error {
	if a.vault == nil {
		a.op.Fail()
		return fmt.Errorf("no vaults configured")
	}
	if err := a.vault.ValidateSetup(); err != nil {
		a.op.Fail()
		return fmt.Errorf("vault not usable: %w", err)
	}
	return nil
}

// Close logs the outcome of the operation and closes all resources.
func (a *ArchiveApp) Close() error {
	a.logger.Info("operation finished",
		"operation", a.op.Name,
		"status", a.op.Status,
		"duration", a.op.Elapsed(time.Now()).Truncate(time.Millisecond),
	)
	return a.closeResources()
}

func (a *ArchiveApp) closeResources() error {
	var firstErr error
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			firstErr = fmt.Errorf("closing journal: %w", err)
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
