// Package sweeper re-classifies stored conversations in the background. It only flags
// messages and conversations for review and never sanctions anyone.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/iamwavecut/ngtrust/internal/classifier"
	"github.com/iamwavecut/ngtrust/internal/db"
	"github.com/iamwavecut/ngtrust/internal/infra"
	"github.com/iamwavecut/ngtrust/internal/observability"
	"github.com/iamwavecut/ngtrust/internal/policy/violation"
)

const (
	CursorKey = "sweeper cursor"

	DefaultConcurrency  = 4
	DefaultRecentWindow = 24 * time.Hour
	defaultPageSize     = 100
	maxLoopPanics       = 3
)

// Report is the result of scanning one conversation.
type Report struct {
	ConversationID  int64            `json:"conversation_id"`
	Scanned         int              `json:"scanned"`
	FlaggedMessages int              `json:"flagged_messages"`
	Categories      []violation.Type `json:"categories,omitempty"`
	Flagged         bool             `json:"flagged"`
}

type Options struct {
	// Limit caps the number of conversations scanned, zero means no cap.
	Limit              int
	SkipAlreadyFlagged bool
	// After starts the scan past this conversation id.
	After int64
	// Resume continues from the stored cursor; it wins over After.
	Resume      bool
	Concurrency int
	PageSize    int
}

type Summary struct {
	Conversations        int   `json:"conversations"`
	FlaggedConversations int   `json:"flagged_conversations"`
	FlaggedMessages      int   `json:"flagged_messages"`
	Failed               int   `json:"failed"`
	Cursor               int64 `json:"cursor"`
}

type Sweeper struct {
	store       db.Client
	classifier  classifier.Classifier
	concurrency int
	interval    time.Duration
	window      time.Duration
	now         func() time.Time

	runMutex  sync.Mutex
	started   bool
	runCancel context.CancelFunc
	workersWg sync.WaitGroup

	log *log.Entry
}

type Option func(*Sweeper)

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

func WithConcurrency(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithInterval enables a periodic ScanRecent over window while the sweeper is started.
func WithInterval(interval, window time.Duration) Option {
	return func(s *Sweeper) {
		s.interval = interval
		if window > 0 {
			s.window = window
		}
	}
}

func New(store db.Client, c classifier.Classifier, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:       store,
		classifier:  c,
		concurrency: DefaultConcurrency,
		window:      DefaultRecentWindow,
		now:         time.Now,
		log:         log.WithField("object", "Sweeper"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScanConversation classifies every message that is not blocked. Matches are marked flagged,
// rows are written only when their moderation changes. The conversation is flagged with the
// joined categories when anything matched.
func (s *Sweeper) ScanConversation(ctx context.Context, conversationID int64) (Report, error) {
	ctx, span := observability.Tracer().Start(ctx, "sweeper.ScanConversation")
	defer span.End()
	span.SetAttributes(attribute.Int64("conversation_id", conversationID))

	report := Report{ConversationID: conversationID}
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return report, fmt.Errorf("scan conversation: %w", err)
	}
	messages, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return report, fmt.Errorf("scan conversation: %w", err)
	}

	var found []violation.Type
	for _, m := range messages {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if m.ModerationStatus == db.ModerationBlocked {
			continue
		}
		report.Scanned++

		verdict, err := classifier.ClassifyMessage(s.classifier, m.Text, m.IsAutoReply)
		if err != nil {
			return report, fmt.Errorf("scan conversation %d: classify message %d: %w", conversationID, m.ID, err)
		}
		if verdict.IsValid {
			continue
		}
		found = append(found, verdict.Violations...)

		flags := db.FlagSet(verdict.Violations)
		if m.ModerationStatus == db.ModerationFlagged && m.ModerationFlags.Equal(flags) {
			continue
		}
		if err := s.store.UpdateMessageModeration(ctx, m.ID, db.ModerationFlagged, flags); err != nil {
			return report, fmt.Errorf("scan conversation: %w", err)
		}
		report.FlaggedMessages++
	}

	if len(found) == 0 {
		return report, nil
	}
	report.Categories = violation.Canonical(found)
	report.Flagged = true
	reason := violation.Join(report.Categories)
	if conv.Flagged && conv.FlagReason == reason {
		return report, nil
	}
	if err := s.store.FlagConversation(ctx, conversationID, reason, s.now()); err != nil {
		return report, fmt.Errorf("scan conversation: %w", err)
	}
	return report, nil
}

// ScanAll walks conversations in id order, scanning each page in parallel. The cursor
// advances past a page only after all of it was scanned, so an interrupted run resumes
// without gaps. A conversation that fails to scan is logged and counted, not retried.
func (s *Sweeper) ScanAll(ctx context.Context, opts Options) (Summary, error) {
	ctx, span := observability.Tracer().Start(ctx, "sweeper.ScanAll")
	defer span.End()

	after := opts.After
	if opts.Resume {
		cursor, err := s.Cursor(ctx)
		if err != nil {
			return Summary{}, err
		}
		after = cursor
	}
	filter := db.ConversationFilter{After: after, SkipFlagged: opts.SkipAlreadyFlagged}
	summary, err := s.scan(ctx, filter, opts, true)
	span.SetAttributes(attribute.Int("conversations", summary.Conversations), attribute.Int64("cursor", summary.Cursor))
	return summary, err
}

// ScanRecent scans conversations with a message inside the trailing window. It does not
// touch the stored cursor.
func (s *Sweeper) ScanRecent(ctx context.Context, window time.Duration) (Summary, error) {
	ctx, span := observability.Tracer().Start(ctx, "sweeper.ScanRecent")
	defer span.End()

	if window <= 0 {
		window = DefaultRecentWindow
	}
	filter := db.ConversationFilter{ActiveSince: s.now().Add(-window)}
	return s.scan(ctx, filter, Options{Concurrency: s.concurrency}, false)
}

func (s *Sweeper) scan(ctx context.Context, filter db.ConversationFilter, opts Options, persistCursor bool) (Summary, error) {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = s.concurrency
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	l := s.log.WithField("method", "scan")

	summary := Summary{Cursor: filter.After}
	defer func() { observability.RecordSweep(summary.Conversations, summary.FlaggedMessages) }()

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		filter.Limit = pageSize
		if opts.Limit > 0 {
			left := opts.Limit - summary.Conversations
			if left <= 0 {
				return summary, nil
			}
			filter.Limit = min(pageSize, left)
		}
		page, err := s.store.ListConversations(ctx, filter)
		if err != nil {
			return summary, fmt.Errorf("scan: %w", err)
		}
		if len(page) == 0 {
			return summary, nil
		}

		var flaggedConvs, flaggedMsgs, failed atomic.Int64
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)
		for _, conv := range page {
			id := conv.ID
			g.Go(func() error {
				report, err := s.ScanConversation(gctx, id)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					failed.Add(1)
					l.WithField("conversation_id", id).WithField("error", err.Error()).Error("cant scan conversation")
					return nil
				}
				if report.Flagged {
					flaggedConvs.Add(1)
				}
				flaggedMsgs.Add(int64(report.FlaggedMessages))
				return nil
			})
		}
		err = g.Wait()
		summary.FlaggedConversations += int(flaggedConvs.Load())
		summary.FlaggedMessages += int(flaggedMsgs.Load())
		summary.Failed += int(failed.Load())
		if err != nil {
			return summary, err
		}

		summary.Conversations += len(page)
		filter.After = page[len(page)-1].ID
		summary.Cursor = filter.After
		if persistCursor {
			if err := s.store.SetKV(ctx, CursorKey, strconv.FormatInt(filter.After, 10)); err != nil {
				return summary, fmt.Errorf("scan: save cursor: %w", err)
			}
		}
		if len(page) < filter.Limit {
			return summary, nil
		}
	}
}

// Cursor returns the last conversation id a full-scan page completed, zero if none.
func (s *Sweeper) Cursor(ctx context.Context) (int64, error) {
	value, err := s.store.GetKV(ctx, CursorKey)
	if err != nil {
		return 0, fmt.Errorf("cursor: %w", err)
	}
	if value == "" {
		return 0, nil
	}
	cursor, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cursor: parse %q: %w", value, err)
	}
	return cursor, nil
}

// Start runs ScanRecent every interval when enabled with WithInterval.
func (s *Sweeper) Start(ctx context.Context) error {
	s.runMutex.Lock()
	defer s.runMutex.Unlock()
	if s.started || s.interval <= 0 {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel

	s.workersWg.Add(1)
	go func() {
		defer s.workersWg.Done()
		infra.RunRecoverable(maxLoopPanics, "sweeper", func() { s.loop(runCtx) })
	}()

	s.started = true
	return nil
}

func (s *Sweeper) loop(ctx context.Context) {
	l := s.log.WithField("method", "loop")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary, err := s.ScanRecent(ctx, s.window)
			if err != nil && !errors.Is(err, context.Canceled) {
				l.WithField("error", err.Error()).Error("sweep failed")
				continue
			}
			if summary.FlaggedConversations > 0 {
				l.WithField("conversations", summary.Conversations).
					WithField("flagged", summary.FlaggedConversations).
					Info("sweep flagged conversations")
			}
		}
	}
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.runMutex.Lock()
	if !s.started {
		s.runMutex.Unlock()
		return nil
	}
	cancel := s.runCancel
	s.started = false
	s.runCancel = nil
	s.runMutex.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		s.workersWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
