package archive

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Service runs sync passes and moves archives to and from a vault.
type Service struct {
	source      MessageSource
	store       RecordStore
	media       MediaStore
	journal     Journal
	vault       Vault
	encryptor   Encryptor
	coordinator *ReplyCoordinator
	logger      Logger
	clock       Clock
	idgen       IDGenerator
}

// Deps lists the collaborators of a Service. Source and Store are required;
// Media, Journal, Vault and Encryptor may be nil when the corresponding
// feature is not used.
type Deps struct {
	Source    MessageSource
	Store     RecordStore
	Media     MediaStore
	Journal   Journal
	Vault     Vault
	Encryptor Encryptor
	Logger    Logger
	Clock     Clock
	Sleeper   Sleeper
	IDGen     IDGenerator

	// Cooldown is the pause between batches of reply fetches.
	Cooldown time.Duration
}

// NewService creates a Service, filling unset optional deps with real
// implementations.
func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = NewNopLogger()
	}
	if d.Clock == nil {
		d.Clock = RealClock{}
	}
	if d.Sleeper == nil {
		d.Sleeper = RealSleeper{}
	}
	if d.IDGen == nil {
		d.IDGen = UUIDGenerator{}
	}
	return &Service{
		source:      d.Source,
		store:       d.Store,
		media:       d.Media,
		journal:     d.Journal,
		vault:       d.Vault,
		encryptor:   d.Encryptor,
		coordinator: NewReplyCoordinator(d.Source, d.Sleeper, d.Cooldown, d.Logger),
		logger:      d.Logger,
		clock:       d.Clock,
		idgen:       d.IDGen,
	}
}

// SyncOptions controls one sync pass.
type SyncOptions struct {
	// Since limits the listing to messages posted at or after it.
	Since *time.Time
	// FetchReplies enables reply thread fetching for stale threads.
	FetchReplies bool
	// DiscardOld ignores the existing archive and rebuilds it from this pass only.
	DiscardOld bool
	// DownloadMedia downloads voice messages after the archive is saved.
	DownloadMedia bool
}

func (o SyncOptions) String() string {
	parts := []string{
		fmt.Sprintf("replies=%t", o.FetchReplies),
		fmt.Sprintf("fresh=%t", o.DiscardOld),
		fmt.Sprintf("media=%t", o.DownloadMedia),
	}
	if o.Since != nil {
		parts = append(parts, "since="+o.Since.UTC().Format(time.RFC3339))
	}
	return strings.Join(parts, " ")
}

// SyncResult describes a completed pass.
type SyncResult struct {
	PassID       string
	Conversation *Conversation
	Snapshot     Snapshot
	Listed       int       // top-level messages returned by the source
	New          int       // ids not present in the previous archive
	Updated      int       // ids present before and listed again
	Replies      *Progress // nil when replies were not requested
	Media        MediaStats
}

// Sync runs one pass for the named conversation: load the archive, list
// messages, fetch stale reply threads, merge and save.
//
// Nothing is written to the archive until the merged snapshot is complete,
// so a failed or cancelled pass leaves the previous archive untouched.
func (s *Service) Sync(ctx context.Context, name string, opts SyncOptions) (*SyncResult, error) {
	passID := s.idgen.New()
	journalID := s.startPass(passID, name, opts)

	result, err := s.syncPass(ctx, passID, name, opts)
	if err != nil {
		s.logger.Error("sync failed", "pass", passID, "conversation", name, "error", err)
		s.failPass(journalID, err)
		return nil, err
	}

	s.finishPass(journalID, result)
	s.logger.Info("sync complete",
		"pass", passID,
		"conversation", name,
		"listed", result.Listed,
		"new", result.New,
		"archived", len(result.Snapshot),
	)
	return result, nil
}

func (s *Service) syncPass(ctx context.Context, passID, name string, opts SyncOptions) (*SyncResult, error) {
	conv, err := s.source.ResolveConversation(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("resolving conversation %q: %w", name, err)
	}

	old := Snapshot{}
	if !opts.DiscardOld {
		old, err = s.store.Load(conv)
		if err != nil {
			return nil, fmt.Errorf("loading archive: %w", err)
		}
	}
	s.logger.Debug("archive loaded", "conversation", conv.ID, "records", len(old))

	fresh, err := s.source.ListMessages(ctx, conv, opts.Since)
	if err == nil {
		err = checkRecords(fresh)
	}
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	s.logger.Info("messages listed", "conversation", conv.ID, "count", len(fresh))

	result := &SyncResult{PassID: passID, Conversation: conv, Listed: len(fresh)}

	var fetched FetchedReplies
	if opts.FetchReplies {
		fetched, result.Replies, err = s.coordinator.FetchStaleReplies(ctx, conv, fresh, old)
		if err != nil {
			return nil, err
		}
	}

	merged := Merge(fresh, old, fetched)
	for _, m := range fresh {
		if _, existed := old[m.ID]; existed {
			result.Updated++
		} else {
			result.New++
		}
	}

	// A pass cancelled after merging must still not persist anything.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.store.Save(conv, merged); err != nil {
		return nil, fmt.Errorf("saving archive: %w", err)
	}
	if err := s.store.SaveConversation(conv); err != nil {
		return nil, fmt.Errorf("saving conversation info: %w", err)
	}
	result.Snapshot = merged

	if opts.DownloadMedia {
		candidates := append(append([]*Message{}, fresh...), fetched.Messages()...)
		result.Media = s.downloadMedia(ctx, conv, candidates)
	}

	return result, nil
}

func (s *Service) startPass(passID, name string, opts SyncOptions) int64 {
	if s.journal == nil {
		return 0
	}
	s.abandonStalePasses(name)

	id, err := s.journal.StartPass(passID, name, opts.String(), s.clock.Now())
	if err != nil {
		s.logger.Warn("recording pass start", "error", err)
		return 0
	}
	return id
}

// abandonStalePasses closes out passes on name that are still marked running.
// Passes on one conversation never overlap, so such a pass died before it
// could record its outcome.
func (s *Service) abandonStalePasses(name string) {
	running, err := s.journal.RunningPasses(name)
	if err != nil {
		s.logger.Warn("checking running passes", "error", err)
		return
	}
	for _, p := range running {
		s.logger.Warn("previous pass never finished, marking abandoned",
			"conversation", name, "pass", p.PassID, "started", p.StartedAt)
		if err := s.journal.AbandonPass(p.ID, s.clock.Now()); err != nil {
			s.logger.Warn("recording abandoned pass", "pass", p.PassID, "error", err)
		}
	}
}

func (s *Service) finishPass(id int64, result *SyncResult) {
	if s.journal == nil || id == 0 {
		return
	}
	summary := PassSummary{Messages: result.Listed, ArchiveSize: len(result.Snapshot)}
	if result.Replies != nil {
		summary.StaleThreads = result.Replies.Total
	}
	if err := s.journal.FinishPass(id, summary, s.clock.Now()); err != nil {
		s.logger.Warn("recording pass finish", "error", err)
	}
}

func (s *Service) failPass(id int64, cause error) {
	if s.journal == nil || id == 0 {
		return
	}
	if err := s.journal.FailPass(id, cause, s.clock.Now()); err != nil {
		s.logger.Warn("recording pass failure", "error", err)
	}
}

// History returns the most recent sync passes, newest first.
func (s *Service) History(limit int) ([]*PassRecord, error) {
	if s.journal == nil {
		return nil, fmt.Errorf("no journal configured")
	}
	passes, err := s.journal.ListPasses(limit)
	if err != nil {
		return nil, fmt.Errorf("listing passes: %w", err)
	}
	return passes, nil
}
