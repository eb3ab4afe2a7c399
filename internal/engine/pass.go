package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fairwaylabs/caddielink/internal/classify"
	"github.com/fairwaylabs/caddielink/internal/journal"
	"github.com/fairwaylabs/caddielink/internal/link"
	"github.com/fairwaylabs/caddielink/internal/message"
	"github.com/fairwaylabs/caddielink/internal/schedule"
	"github.com/fairwaylabs/caddielink/internal/telemetry"
)

// reachabilityPoll is how often the loop checks the link for reconnect,
// independent of the sync cadence.
const reachabilityPoll = 5 * time.Second

// run is the single synchronization loop. Passes execute inline here, so
// ticks arriving mid-pass coalesce instead of overlapping: the next tick
// simply observes the queue once the prior pass finished.
func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	sched := e.scheduler.Current()
	timer := time.NewTimer(sched.Interval)
	defer timer.Stop()

	reachTicker := time.NewTicker(reachabilityPoll)
	defer reachTicker.Stop()

	resetTimer := func(d time.Duration) {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(d)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return

		case band := <-e.battery.Updates():
			e.logger.Info("battery band changed", "band", band.String())
			e.outbound.SetPriorityFloor(schedule.BandFloor(band))
			e.scheduler.SetBand(band)

		case next := <-e.scheduler.Changes():
			sched = next
			e.logger.Debug("schedule recomputed",
				"interval", sched.Interval,
				"floor", sched.PriorityFloor.String(),
				"batch", sched.BatchSize)
			resetTimer(sched.Interval)

		case <-reachTicker.C:
			up := e.peerLink.Reachable()
			e.mu.Lock()
			was := e.reachable
			e.reachable = up
			e.mu.Unlock()
			if up && !was {
				e.logger.Info("peer reachable again, requesting full sync")
				e.requestSync(true)
			}

		case <-timer.C:
			delay := e.runPass(ctx, sched, false)
			if delay <= 0 {
				delay = sched.Interval
			}
			resetTimer(delay)

		case full := <-e.syncReq:
			delay := e.runPass(ctx, sched, full)
			if delay <= 0 {
				delay = sched.Interval
			}
			resetTimer(delay)
		}
	}
}

// runPass drains one batch and delivers it. It returns the delay before
// the next pass: zero for the steady cadence, a backoff after a failure.
// An empty batch leaves the engine Idle with no transition at all.
func (e *Engine) runPass(ctx context.Context, sched schedule.Schedule, full bool) time.Duration {
	e.foldStagedTelemetry()

	var batch []message.Message
	if full {
		// A manual/full pass bypasses floor and batch limits once and
		// resends the complete round state: interim deltas may have been
		// lost to slot overwrites while the link was down.
		if e.peerLink.Reachable() {
			e.stageFullState()
		}
		batch = e.outbound.DequeueBatch(e.outbound.Len())
	} else {
		batch = e.outbound.DequeueBatchAbove(sched.BatchSize, sched.PriorityFloor)
	}
	if len(batch) == 0 {
		return 0
	}

	e.setState(StateSyncing, nil)

	var passErr error
	for _, m := range batch {
		if err := e.deliver(ctx, m); err != nil {
			passErr = err
		}
		if ctx.Err() != nil {
			passErr = ctx.Err()
			break
		}
	}

	e.mu.Lock()
	if passErr == nil {
		e.failures = 0
		e.lastSync = time.Now().UTC()
		e.stats.PassesCompleted++
	} else {
		e.failures++
		e.stats.PassesFailed++
	}
	failures := e.failures
	e.mu.Unlock()

	if passErr == nil {
		e.setState(StateCompleted, nil)
		e.setState(StateIdle, nil)
		return 0
	}

	delay := schedule.RetryDelay(failures)
	e.logger.Warn("sync pass failed",
		"error", passErr,
		"consecutive_failures", failures,
		"retry_in", delay)
	e.setState(StateFailed, passErr)
	e.setState(StateIdle, nil)
	return delay
}

// deliver sends one message over the channel its urgency calls for.
// Returned errors are transient transport failures; permanent failures
// (encode) are swallowed after dropping the message.
func (e *Engine) deliver(ctx context.Context, m message.Message) error {
	data, err := message.Encode(m)
	if err != nil {
		// Malformed payload: drop, never retry.
		e.mu.Lock()
		e.stats.DroppedEncode++
		e.mu.Unlock()
		e.logger.Error("dropping unencodable message",
			"id", m.ID, "kind", string(m.Kind), "error", err)
		return nil
	}

	if !e.peerLink.Reachable() {
		if m.Kind.LatestState() {
			// Overwrite the durable slot; the peer picks it up on
			// reconnect.
			if err := e.peerLink.UpdateLatestState(ctx, data); err != nil {
				return e.retryLater(m, err)
			}
			e.mu.Lock()
			e.stats.SlotUpdates++
			e.mu.Unlock()
			e.markDelivered(m.ID)
			return nil
		}
		// Event-like message: hold for later delivery.
		e.enqueue(m)
		return link.ErrUnreachable
	}

	if m.RequiresAck {
		e.trackPending(m.ID)
		reply, err := e.peerLink.SendInteractive(ctx, data)
		e.clearPending(m.ID)
		if err != nil {
			return e.retryLater(m, err)
		}
		e.mu.Lock()
		e.stats.Sent++
		e.stats.Acked++
		e.mu.Unlock()
		e.markDelivered(m.ID)
		e.handleReply(reply)
		return nil
	}

	if err := e.peerLink.SendFireAndForget(ctx, data); err != nil {
		return e.retryLater(m, err)
	}
	e.mu.Lock()
	e.stats.Sent++
	e.mu.Unlock()
	e.markDelivered(m.ID)
	return nil
}

// retryLater re-enqueues a message after a transport failure, dropping it
// once the retry budget is spent. Cancellation counts as a non-fatal
// failure for this message only.
func (e *Engine) retryLater(m message.Message, cause error) error {
	m.RetryCount++
	if m.Exhausted() {
		e.mu.Lock()
		e.stats.DroppedRetry++
		e.mu.Unlock()
		e.logger.Warn("dropping message after retry budget",
			"id", m.ID, "kind", string(m.Kind), "retries", m.RetryCount, "error", cause)
		return cause
	}
	e.mu.Lock()
	e.stats.Retried++
	e.mu.Unlock()
	e.enqueue(m)
	return cause
}

// handleReply processes an interactive reply; today the only payload is
// an acknowledgement, which markDelivered already accounted for.
func (e *Engine) handleReply(reply []byte) {
	if len(reply) == 0 {
		return
	}
	msg, err := message.Decode(reply)
	if err != nil {
		e.logger.Debug("undecodable reply", "error", err)
		return
	}
	if body, ok := msg.Body.(message.ControlBody); ok && body.Op == "ack" {
		e.logger.Debug("peer acknowledged", "ack_id", body.AckID)
	}
}

func (e *Engine) trackPending(id string) {
	e.pendingMu.Lock()
	e.pending[id] = time.Now()
	e.pendingMu.Unlock()
}

func (e *Engine) clearPending(id string) {
	e.pendingMu.Lock()
	delete(e.pending, id)
	e.pendingMu.Unlock()
}

// markDelivered flips the journal entry once the peer has the message.
func (e *Engine) markDelivered(id string) {
	if e.journal == nil {
		return
	}
	if err := e.journal.MarkDelivered(id); err == nil {
		return
	}
	// Telemetry and restaged messages have no journal entry; fine.
}

// telemetryLoop samples the telemetry source, classifies the activity
// context and enqueues snapshots. It stages biometric updates for the
// pass loop instead of mutating the round directly.
func (e *Engine) telemetryLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.TelemetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			if err := e.sampleTelemetry(ctx); err != nil {
				e.logger.Debug("telemetry sample failed", "error", err)
			}
		}
	}
}

// sampleTelemetry pulls one sample, reclassifies the context and
// enqueues a snapshot at the context-derived priority.
func (e *Engine) sampleTelemetry(ctx context.Context) error {
	sample, err := e.source.Current(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	r := e.activeRound
	var (
		roundID     string
		currentHole int
		courseID    string
	)
	if r != nil {
		roundID = r.ID
		currentHole = r.CurrentHole
		courseID = r.CourseID
		e.staged = append(e.staged, sample)
	}
	e.lastSample = sample
	e.mu.Unlock()

	sig := classify.Signals{
		RoundActive:     r != nil,
		DistanceToGreen: -1,
		Speed:           sample.Speed,
	}
	if c, ok := e.courses.Get(courseID); ok {
		if hole, ok := c.Hole(currentHole); ok {
			sig.HoleLength = hole.LengthM
			sig.DistanceToGreen = telemetry.Distance(
				sample.Latitude, sample.Longitude, hole.GreenLat, hole.GreenLon)
		}
	}
	current := e.classifier.Observe(sig)
	e.scheduler.SetContext(current)

	if r == nil {
		return nil
	}

	msg := message.New(message.TelemetryBody{
		RoundID:   roundID,
		HeartRate: sample.HeartRate,
		Calories:  sample.Calories,
		Steps:     sample.Steps,
		Distance:  sample.Distance,
		Latitude:  sample.Latitude,
		Longitude: sample.Longitude,
		Accuracy:  sample.Accuracy,
		SampledAt: sample.SampledAt,
	})
	// Context decides how urgently routine telemetry ships.
	msg.Priority = current.DefaultPriority()
	e.enqueue(msg)
	return nil
}

// stageFullState enqueues the round header and a complete scorecard
// snapshot. Per-hole timestamps make the snapshot safe to replay on a
// peer that already has some of it.
func (e *Engine) stageFullState() {
	e.mu.Lock()
	r := e.activeRound
	sc := e.scorecard
	if r == nil || sc == nil {
		e.mu.Unlock()
		return
	}
	start := message.RoundStartBody{RoundID: r.ID, CourseID: r.CourseID, StartedAt: r.StartedAt}
	snapshot := message.ScoreUpdateBody{
		RoundID:     sc.RoundID,
		CurrentHole: r.CurrentHole,
		TotalScore:  sc.Total,
		UpdatedAt:   sc.LastUpdated,
		Snapshot:    true,
	}
	for _, hs := range sc.Holes {
		snapshot.Holes = append(snapshot.Holes, hs)
	}
	e.mu.Unlock()

	e.enqueue(message.New(start))
	if len(snapshot.Holes) > 0 {
		e.enqueue(message.New(snapshot))
	}
}

// foldStagedTelemetry merges staged samples into the authoritative round
// biometrics. Only the pass loop calls this, so round mutation never
// races a merge.
func (e *Engine) foldStagedTelemetry() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activeRound == nil || len(e.staged) == 0 {
		e.staged = e.staged[:0]
		return
	}
	for _, s := range e.staged {
		e.activeRound.Biometrics.AddSample(s.HeartRate, s.Calories, s.Steps, s.Distance)
	}
	e.staged = e.staged[:0]
}

// restageMessage rebuilds the outbound message for an unacknowledged
// journal entry.
func restageMessage(entry journal.Entry) (message.Message, bool) {
	var body message.Body
	switch entry.Event {
	case journal.EventRoundStart:
		var b message.RoundStartBody
		if err := json.Unmarshal(entry.Payload, &b); err != nil {
			return message.Message{}, false
		}
		body = b
	case journal.EventRoundEnd:
		var b message.RoundEndBody
		if err := json.Unmarshal(entry.Payload, &b); err != nil {
			return message.Message{}, false
		}
		body = b
	case journal.EventScore:
		var b message.ScoreUpdateBody
		if err := json.Unmarshal(entry.Payload, &b); err != nil {
			return message.Message{}, false
		}
		body = b
	default:
		return message.Message{}, false
	}

	m := message.New(body)
	m.ID = entry.MessageID // keep the journal correlation
	return m, true
}
