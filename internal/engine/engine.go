// Package engine orchestrates synchronization between the two peers: it
// owns the outbound queue and the authoritative round state, consumes
// scheduler ticks, drains priority batches, selects delivery channels and
// reconciles inbound state against local state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fairwaylabs/caddielink/internal/classify"
	"github.com/fairwaylabs/caddielink/internal/course"
	"github.com/fairwaylabs/caddielink/internal/journal"
	"github.com/fairwaylabs/caddielink/internal/link"
	"github.com/fairwaylabs/caddielink/internal/message"
	"github.com/fairwaylabs/caddielink/internal/power"
	"github.com/fairwaylabs/caddielink/internal/queue"
	"github.com/fairwaylabs/caddielink/internal/round"
	"github.com/fairwaylabs/caddielink/internal/schedule"
	"github.com/fairwaylabs/caddielink/internal/telemetry"
)

var (
	// ErrRoundActive is returned when StartRound is called while a round
	// is live. The one invariant violation that must reach the caller.
	ErrRoundActive = errors.New("engine: a round is already active")

	// ErrNoRound is returned by round operations when no round is live.
	ErrNoRound = errors.New("engine: no active round")

	// ErrNotRunning is returned when the engine has not been started.
	ErrNotRunning = errors.New("engine: not running")
)

// State is the engine's synchronization state.
type State int

const (
	StateIdle State = iota
	StateSyncing
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSyncing:
		return "syncing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is published on every engine state transition.
type Event struct {
	State State
	At    time.Time
	Err   error
}

// Stats counts engine outcomes. Transient and policy drops never surface
// as errors, only here.
type Stats struct {
	PassesCompleted int64
	PassesFailed    int64
	Sent            int64
	Acked           int64
	Retried         int64
	DroppedRetry    int64
	DroppedEncode   int64
	DroppedDecode   int64
	SlotUpdates     int64
	Received        int64
	Duplicates      int64
}

// Config tunes an engine instance.
type Config struct {
	// Role is "controller" or "satellite"; only the controller archives
	// rounds.
	Role string

	// QueueCapacity bounds the outbound queue.
	QueueCapacity int

	// TelemetryInterval is how often the telemetry source is sampled.
	TelemetryInterval time.Duration

	// Haptics plays a haptic pattern requested by the peer. Optional;
	// presentation is outside the engine.
	Haptics func(pattern string)
}

// Engine is one peer's synchronization engine.
type Engine struct {
	cfg        Config
	logger     *slog.Logger
	peerLink   link.Link
	battery    power.Monitor
	source     telemetry.Source
	courses    *course.Registry
	journal    *journal.Journal
	archiver   Archiver
	outbound   *queue.Queue
	scheduler  *schedule.Scheduler
	classifier *classify.Classifier

	mu          sync.Mutex
	state       State
	activeRound *round.Round
	scorecard   *round.Scorecard
	lastSync    time.Time
	failures    int
	staged      []telemetry.Sample
	lastSample  telemetry.Sample
	reachable   bool
	running     bool

	pendingMu sync.Mutex
	pending   map[string]time.Time // in-flight acks, keyed by message ID
	seen      map[string]time.Time // applied inbound IDs, for de-duplication

	syncReq chan bool // coalesced sync trigger; true = full sync
	events  chan Event
	stopCh  chan struct{}
	wg      sync.WaitGroup
	stats   Stats
}

// Archiver receives finished rounds. *archive.Store satisfies it.
type Archiver interface {
	Save(ctx context.Context, r *round.Round, sc *round.Scorecard, endedAt time.Time) error
}

// New wires an engine. journal and archiver may be nil; courses may be
// empty (the classifier falls back to motion-only signals).
func New(cfg Config, peerLink link.Link, battery power.Monitor, source telemetry.Source,
	courses *course.Registry, jnl *journal.Journal, archiver Archiver, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = queue.DefaultCapacity
	}
	if cfg.TelemetryInterval <= 0 {
		cfg.TelemetryInterval = 30 * time.Second
	}
	if courses == nil {
		courses = course.NewRegistry()
	}

	e := &Engine{
		cfg:        cfg,
		logger:     logger.With("component", "engine", "role", cfg.Role),
		peerLink:   peerLink,
		battery:    battery,
		source:     source,
		courses:    courses,
		journal:    jnl,
		archiver:   archiver,
		outbound:   queue.New(cfg.QueueCapacity),
		scheduler:  schedule.New(battery.Band()),
		classifier: classify.New(),
		state:      StateIdle,
		pending:    make(map[string]time.Time),
		seen:       make(map[string]time.Time),
		syncReq:    make(chan bool, 1),
		events:     make(chan Event, 16),
		stopCh:     make(chan struct{}),
	}
	e.outbound.SetPriorityFloor(schedule.BandFloor(battery.Band()))
	peerLink.SetHandler(e)
	return e
}

// Start launches the synchronization loop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.reachable = e.peerLink.Reachable()
	e.mu.Unlock()

	e.restage()

	e.wg.Add(2)
	go e.run(ctx)
	go e.telemetryLoop(ctx)

	e.logger.Info("sync engine started",
		"band", e.battery.Band().String(),
		"interval", e.scheduler.Current().Interval)
	return nil
}

// Stop cancels retry timers and abandons in-flight waits; a cancelled
// wait fails only the message it carried.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	close(e.stopCh)
	e.wg.Wait()
	e.logger.Info("sync engine stopped")
}

// StartRound creates the active round on the given course. Exactly one
// round may be live; a second start is rejected with the first untouched.
func (e *Engine) StartRound(courseID string) (*round.Round, error) {
	e.mu.Lock()
	if e.activeRound != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w (id %s)", ErrRoundActive, e.activeRound.ID)
	}
	r := round.New(courseID)
	e.activeRound = r
	e.scorecard = round.NewScorecard(r.ID)
	projection := r.Clone()
	e.mu.Unlock()

	body := message.RoundStartBody{RoundID: r.ID, CourseID: courseID, StartedAt: r.StartedAt}
	msg := message.New(body)
	e.journalEvent(r.ID, msg.ID, journal.EventRoundStart, body)
	e.enqueue(msg)
	e.requestSync(false)

	e.logger.Info("round started", "round_id", r.ID, "course_id", courseID)
	return projection, nil
}

// RecordHoleProgress records the score for a hole and advances the
// current hole. The resulting delta carries only the modified hole.
func (e *Engine) RecordHoleProgress(hole, strokes int) error {
	if hole <= 0 || strokes <= 0 {
		return fmt.Errorf("engine: invalid hole progress (hole %d, strokes %d)", hole, strokes)
	}

	now := time.Now().UTC()
	e.mu.Lock()
	if e.activeRound == nil {
		e.mu.Unlock()
		return ErrNoRound
	}
	delta := e.scorecard.Record(hole, strokes, now)
	e.activeRound.TotalScore = e.scorecard.Total
	if hole >= e.activeRound.CurrentHole {
		e.activeRound.CurrentHole = hole + 1
	}
	delta.CurrentHole = e.activeRound.CurrentHole
	e.activeRound.LastUpdated = now
	roundID := e.activeRound.ID
	e.mu.Unlock()

	msg := message.New(delta)
	e.journalEvent(roundID, msg.ID, journal.EventScore, delta)
	e.enqueue(msg)
	e.requestSync(false)

	e.logger.Debug("hole progress recorded",
		"round_id", roundID, "hole", hole, "strokes", strokes)
	return nil
}

// EndRound archives the active round and announces the end to the peer.
func (e *Engine) EndRound(ctx context.Context) error {
	now := time.Now().UTC()
	e.mu.Lock()
	if e.activeRound == nil {
		e.mu.Unlock()
		return ErrNoRound
	}
	r := e.activeRound
	sc := e.scorecard
	e.activeRound = nil
	e.scorecard = nil
	e.mu.Unlock()

	body := message.RoundEndBody{RoundID: r.ID, EndedAt: now, TotalScore: sc.Total}
	msg := message.New(body)
	e.journalEvent(r.ID, msg.ID, journal.EventRoundEnd, body)
	e.enqueue(msg)
	e.requestSync(false)

	if e.archiver != nil {
		if err := e.archiver.Save(ctx, r, sc, now); err != nil {
			return fmt.Errorf("archive round %s: %w", r.ID, err)
		}
	}
	e.logger.Info("round ended", "round_id", r.ID, "total", sc.Total)
	return nil
}

// RequestFullSync triggers one pass that bypasses the floor and batch
// limits, used on reconnect and for explicit user sync.
func (e *Engine) RequestFullSync() {
	e.requestSync(true)
}

// SyncState returns the engine's current synchronization state.
func (e *Engine) SyncState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastSyncTime returns when the last pass completed successfully.
func (e *Engine) LastSyncTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync
}

// PendingMessageCount returns the number of queued outbound messages.
func (e *Engine) PendingMessageCount() int {
	return e.outbound.Len()
}

// ActiveRound returns a read-only projection of the live round, or nil.
func (e *Engine) ActiveRound() *round.Round {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeRound.Clone()
}

// Scorecard returns a read-only copy of the live scorecard, or nil.
func (e *Engine) Scorecard() *round.Scorecard {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scorecard.Clone()
}

// Context returns the current activity context.
func (e *Engine) Context() classify.Context {
	return e.classifier.Current()
}

// Events emits engine state transitions. Slow consumers miss events
// rather than stalling the sync loop.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// QueueStats exposes the outbound queue counters.
func (e *Engine) QueueStats() queue.Stats {
	return e.outbound.Stats()
}

// enqueue admits a message to the outbound queue; policy rejections are
// logged at debug and counted by the queue itself.
func (e *Engine) enqueue(m message.Message) {
	if !e.outbound.Enqueue(m) {
		e.logger.Debug("message rejected by queue policy",
			"id", m.ID, "kind", string(m.Kind), "priority", m.Priority.String())
	}
}

// requestSync nudges the pass loop. The channel holds one pending
// request; a full sync upgrade replaces a plain one.
func (e *Engine) requestSync(full bool) {
	select {
	case e.syncReq <- full:
	default:
		if full {
			select {
			case <-e.syncReq:
			default:
			}
			select {
			case e.syncReq <- true:
			default:
			}
		}
	}
}

// journalEvent appends to the journal when one is configured.
func (e *Engine) journalEvent(roundID, messageID string, event journal.EventType, payload interface{}) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Append(roundID, messageID, event, payload); err != nil {
		e.logger.Warn("failed to journal event", "event", string(event), "error", err)
	}
}

// restage re-enqueues journaled events that never got acknowledged, so a
// restart mid-round does not lose queued updates.
func (e *Engine) restage() {
	if e.journal == nil {
		return
	}
	entries := e.journal.Undelivered()
	for _, entry := range entries {
		msg, ok := restageMessage(entry)
		if !ok {
			continue
		}
		e.enqueue(msg)
	}
	if len(entries) > 0 {
		e.logger.Info("restaged undelivered events", "count", len(entries))
	}
}

// publish emits an event without blocking the loop.
func (e *Engine) publish(ev Event) {
	select {
	case e.events <- ev:
	default:
	}
}

// setState transitions the engine state and publishes the event.
func (e *Engine) setState(s State, err error) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	e.publish(Event{State: s, At: time.Now(), Err: err})
}
