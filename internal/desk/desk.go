// Package desk owns the consultation lifecycle: intake, claims, replies,
// category changes, closure, rating and the staff/client views over them.
package desk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/directline-io/directline/internal/assignment"
	"github.com/directline-io/directline/internal/classify"
	"github.com/directline-io/directline/internal/consultation"
	"github.com/directline-io/directline/internal/dedupe"
	"github.com/directline-io/directline/internal/events"
	"github.com/directline-io/directline/internal/notify"
	"github.com/directline-io/directline/internal/scheduler"
	"github.com/directline-io/directline/pkg/protocol"
)

var (
	ErrClosed          = errors.New("consultation is closed")
	ErrNotClosed       = errors.New("consultation is not closed yet")
	ErrReasonRequired  = errors.New("a reason is required")
	ErrInvalidRating   = errors.New("rating must be between 1 and 5")
	ErrAlreadyRated    = errors.New("consultation already rated")
	ErrNotClaimed      = errors.New("consultation is not in your workspace")
	ErrAlreadyClaimed  = errors.New("consultation is claimed by another agent")
	ErrForbidden       = errors.New("not allowed for this identity")
	ErrEmptyMessage    = errors.New("message text is required")
	ErrInvalidCategory = errors.New("invalid category")
)

// Options are the desk's collaborators. Only Store is required.
type Options struct {
	Store      consultation.Store
	Tracker    *assignment.Tracker
	Classifier classify.Classifier
	Guard      dedupe.Guard
	Scheduler  *scheduler.Scheduler // nil disables simulated replies
	Events     events.Publisher
	Notifier   notify.Notifier
	Logger     *slog.Logger
}

// Config tunes desk behavior.
type Config struct {
	DedupeWindow     time.Duration // 0 disables duplicate intake protection
	ClassifyTimeout  time.Duration
	SimulateReplies  bool
	AgentReplyDelay  time.Duration
	ClientReplyDelay time.Duration
	Producer         string // event producer name
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		DedupeWindow:     10 * time.Second,
		ClassifyTimeout:  20 * time.Second,
		AgentReplyDelay:  2500 * time.Millisecond,
		ClientReplyDelay: 2000 * time.Millisecond,
		Producer:         "directline",
	}
}

// Desk is the consultation service.
type Desk struct {
	mu         sync.Mutex // serialises read-modify-write of consultations
	store      consultation.Store
	tracker    *assignment.Tracker
	classifier classify.Classifier
	guard      dedupe.Guard
	sched      *scheduler.Scheduler
	events     events.Publisher
	notifier   notify.Notifier
	cfg        Config
	logger     *slog.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time
}

// New creates a desk.
func New(opts Options, cfg Config) (*Desk, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("desk: store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Tracker == nil {
		opts.Tracker = assignment.New(assignment.DefaultLimit, logger)
	}
	if opts.Classifier == nil {
		opts.Classifier = classify.NewRules(nil)
	}
	if opts.Guard == nil {
		opts.Guard = dedupe.NewMemory()
	}
	if opts.Events == nil {
		opts.Events = events.NewLog(logger)
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Log{Logger: logger}
	}
	if cfg.ClassifyTimeout <= 0 {
		cfg.ClassifyTimeout = DefaultConfig().ClassifyTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Desk{
		store:      opts.Store,
		tracker:    opts.Tracker,
		classifier: opts.Classifier,
		guard:      opts.Guard,
		sched:      opts.Scheduler,
		events:     opts.Events,
		notifier:   opts.Notifier,
		cfg:        cfg,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		now:        time.Now,
	}, nil
}

// Tracker exposes the assignment tracker.
func (d *Desk) Tracker() *assignment.Tracker { return d.tracker }

// Wait blocks until background classification and notification work is done.
func (d *Desk) Wait() { d.wg.Wait() }

// Shutdown cancels background work and waits for it to finish.
func (d *Desk) Shutdown() {
	d.cancel()
	d.wg.Wait()
}

// CapacityNotice is the notice shown to an agent whose claim was rejected.
func (d *Desk) CapacityNotice() protocol.Notice {
	return protocol.Notice{
		Level: protocol.NoticeWarning,
		Title: "Workspace full",
		Text:  fmt.Sprintf("You can work on at most %d consultations at a time. Close or release one first.", d.tracker.Limit()),
		Time:  d.now(),
	}
}

// --- helpers ---

func (d *Desk) goTracked(name string, fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("background task panicked", "task", name, "panic", r)
			}
		}()
		fn()
	}()
}

func (d *Desk) publish(typ string, data events.Consultation) {
	ctx, cancel := context.WithTimeout(d.ctx, 5*time.Second)
	defer cancel()
	if err := d.events.Publish(ctx, typ, events.New(typ, d.cfg.Producer, data)); err != nil {
		d.logger.Warn("event publish failed", "type", typ, "consultation", data.ConsultationID, "error", err)
	}
}

func (d *Desk) alert(a notify.Alert) {
	d.goTracked("notify", func() {
		ctx, cancel := context.WithTimeout(d.ctx, 10*time.Second)
		defer cancel()
		if err := d.notifier.Notify(ctx, a); err != nil {
			d.logger.Warn("staff notification failed", "consultation", a.ConsultationID, "error", err)
		}
	})
}

func (d *Desk) message(c *protocol.Consultation, author protocol.Author, authorID, text string, att *protocol.Attachment) (protocol.Message, error) {
	m := protocol.Message{
		ID:             "msg-" + uuid.NewString(),
		ConsultationID: c.ID,
		Author:         author,
		AuthorID:       authorID,
		Content:        text,
		Attachment:     att,
		SentAt:         d.now(),
	}
	if err := d.store.AppendMessage(c.ID, m); err != nil {
		return protocol.Message{}, err
	}
	c.Messages = append(c.Messages, m)
	return m, nil
}

func (d *Desk) notice(c *protocol.Consultation, level protocol.NoticeLevel, title, text string) {
	n := protocol.Notice{Level: level, Title: title, Text: text, Time: d.now()}
	if err := d.store.AppendNotice(c.ID, n); err != nil {
		d.logger.Warn("notice not recorded", "consultation", c.ID, "error", err)
		return
	}
	c.Notices = append(c.Notices, n)
}

func requireStaff(actor protocol.Identity) error {
	if !actor.IsStaff() {
		return ErrForbidden
	}
	return nil
}

// canView reports whether the identity may see the consultation.
func canView(viewer protocol.Identity, c *protocol.Consultation) bool {
	return viewer.IsStaff() || c.Client.ID == viewer.ID
}
