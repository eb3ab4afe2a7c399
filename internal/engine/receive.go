package engine

import (
	"context"
	"time"

	"github.com/fairwaylabs/caddielink/internal/message"
	"github.com/fairwaylabs/caddielink/internal/resolve"
	"github.com/fairwaylabs/caddielink/internal/round"
	"github.com/fairwaylabs/caddielink/internal/telemetry"
)

// seenRetention bounds the de-duplication window. Anything older than the
// message expiry cannot be redelivered by a well-behaved peer anyway.
const seenRetention = 2 * message.Expiry

// OnMessage handles one inbound frame from the peer and returns the ack
// reply when the message asked for one. Implements link.Handler.
func (e *Engine) OnMessage(payload []byte) []byte {
	msg, err := message.Decode(payload)
	if err != nil {
		e.mu.Lock()
		e.stats.DroppedDecode++
		e.mu.Unlock()
		e.logger.Warn("dropping undecodable inbound message", "error", err)
		return nil
	}

	if e.alreadySeen(msg.ID) {
		e.mu.Lock()
		e.stats.Duplicates++
		e.mu.Unlock()
		// Re-ack duplicates so a peer that missed the first ack stops
		// resending.
		if msg.RequiresAck {
			return e.ackReply(msg.ID)
		}
		return nil
	}

	e.apply(msg)

	e.mu.Lock()
	e.stats.Received++
	e.mu.Unlock()

	if msg.RequiresAck {
		return e.ackReply(msg.ID)
	}
	return nil
}

// OnLatestState handles the durable latest-state slot delivered after a
// reconnect. Same application path as live messages, no reply channel.
func (e *Engine) OnLatestState(payload []byte) {
	msg, err := message.Decode(payload)
	if err != nil {
		e.mu.Lock()
		e.stats.DroppedDecode++
		e.mu.Unlock()
		e.logger.Warn("dropping undecodable latest-state payload", "error", err)
		return
	}
	if e.alreadySeen(msg.ID) {
		e.mu.Lock()
		e.stats.Duplicates++
		e.mu.Unlock()
		return
	}
	e.apply(msg)
	e.mu.Lock()
	e.stats.Received++
	e.mu.Unlock()
}

// apply reconciles one inbound message against local state.
func (e *Engine) apply(msg message.Message) {
	switch body := msg.Body.(type) {
	case message.RoundStartBody:
		e.applyRoundStart(body)
	case message.RoundEndBody:
		e.applyRoundEnd(body)
	case message.ScoreUpdateBody:
		e.applyScore(body)
	case message.TelemetryBody:
		e.applyTelemetry(body)
	case message.HapticBody:
		if e.cfg.Haptics != nil {
			e.cfg.Haptics(body.Pattern)
		}
	case message.ControlBody:
		e.applyControl(body)
	default:
		e.logger.Warn("inbound message with unhandled body",
			"id", msg.ID, "kind", string(msg.Kind))
	}
}

// applyRoundStart adopts the peer's round when no round is live here. If a
// different round is already active, local wins and the remote start is
// ignored; the peers re-converge when either round ends.
func (e *Engine) applyRoundStart(body message.RoundStartBody) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.activeRound != nil {
		if e.activeRound.ID == body.RoundID {
			return
		}
		e.logger.Warn("ignoring remote round start, another round is active",
			"local_round", e.activeRound.ID, "remote_round", body.RoundID)
		return
	}

	e.activeRound = &round.Round{
		ID:          body.RoundID,
		CourseID:    body.CourseID,
		CurrentHole: 1,
		StartedAt:   body.StartedAt,
		LastUpdated: body.StartedAt,
	}
	e.scorecard = round.NewScorecard(body.RoundID)
	e.logger.Info("adopted remote round",
		"round_id", body.RoundID, "course_id", body.CourseID)
}

// applyRoundEnd closes the matching active round. The archiver (when
// configured) gets the final state even when the end arrived remotely.
func (e *Engine) applyRoundEnd(body message.RoundEndBody) {
	e.mu.Lock()
	if e.activeRound == nil || e.activeRound.ID != body.RoundID {
		e.mu.Unlock()
		return
	}
	r := e.activeRound
	sc := e.scorecard
	e.activeRound = nil
	e.scorecard = nil
	e.mu.Unlock()

	if e.archiver != nil {
		ctx, cancel := archiveContext()
		defer cancel()
		if err := e.archiver.Save(ctx, r, sc, body.EndedAt); err != nil {
			e.logger.Error("failed to archive remotely ended round",
				"round_id", r.ID, "error", err)
		}
	}
	e.logger.Info("round ended by peer", "round_id", body.RoundID, "total", body.TotalScore)
}

// applyScore merges inbound score traffic. Regular deltas apply per hole,
// which is idempotent thanks to per-hole timestamps. A full-sync snapshot
// is the peer's entire card after a divergence, so it goes through the
// card-level resolver instead: disjoint edits merge per hole, overlapping
// edits hand the whole card to the more recently updated side. An update
// for an unknown round is dropped.
func (e *Engine) applyScore(body message.ScoreUpdateBody) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.activeRound == nil || e.activeRound.ID != body.RoundID {
		e.logger.Debug("score update for unknown round dropped", "round_id", body.RoundID)
		return
	}
	if e.scorecard == nil {
		e.scorecard = round.NewScorecard(body.RoundID)
	}

	changed := true
	if body.Snapshot {
		remote := round.NewScorecard(body.RoundID)
		remote.ApplyDelta(body)
		e.scorecard = resolve.Scorecards(e.scorecard, remote)
	} else {
		changed = e.scorecard.ApplyDelta(body)
	}

	if changed {
		e.activeRound.TotalScore = e.scorecard.Total
		if body.CurrentHole > e.activeRound.CurrentHole {
			e.activeRound.CurrentHole = body.CurrentHole
		}
		if body.UpdatedAt.After(e.activeRound.LastUpdated) {
			e.activeRound.LastUpdated = body.UpdatedAt
		}
	}
}

// applyTelemetry reconciles a remote snapshot: the reading with the better
// location accuracy becomes the current one, and the remote biometrics
// fold into the active round.
func (e *Engine) applyTelemetry(body message.TelemetryBody) {
	e.mu.Lock()
	defer e.mu.Unlock()

	local := message.TelemetryBody{
		HeartRate: e.lastSample.HeartRate,
		Calories:  e.lastSample.Calories,
		Steps:     e.lastSample.Steps,
		Distance:  e.lastSample.Distance,
		Latitude:  e.lastSample.Latitude,
		Longitude: e.lastSample.Longitude,
		Accuracy:  e.lastSample.Accuracy,
		SampledAt: e.lastSample.SampledAt,
	}
	if e.lastSample.SampledAt.IsZero() {
		// No local fix yet; take the remote one unconditionally.
		local.Accuracy = body.Accuracy + 1
	}
	best := resolve.Telemetry(local, body)

	e.lastSample = telemetry.Sample{
		HeartRate: best.HeartRate,
		Calories:  best.Calories,
		Steps:     best.Steps,
		Distance:  best.Distance,
		Latitude:  best.Latitude,
		Longitude: best.Longitude,
		Accuracy:  best.Accuracy,
		SampledAt: best.SampledAt,
	}

	if e.activeRound != nil && e.activeRound.ID == body.RoundID {
		e.activeRound.Biometrics.AddSample(
			body.HeartRate, body.Calories, body.Steps, body.Distance)
	}
}

// applyControl handles engine control traffic.
func (e *Engine) applyControl(body message.ControlBody) {
	switch body.Op {
	case "ack":
		e.clearPending(body.AckID)
		e.markDelivered(body.AckID)
	case "full_sync":
		e.requestSync(true)
	case "ping":
		// Reachability probes need no state change.
	default:
		e.logger.Debug("unknown control op", "op", body.Op)
	}
}

// ackReply builds the encoded acknowledgement for a message ID.
func (e *Engine) ackReply(ackID string) []byte {
	reply := message.New(message.ControlBody{Op: "ack", AckID: ackID})
	data, err := message.Encode(reply)
	if err != nil {
		e.logger.Error("failed to encode ack", "ack_id", ackID, "error", err)
		return nil
	}
	return data
}

// alreadySeen records the message ID and reports whether it was applied
// before. The window is pruned lazily.
func (e *Engine) alreadySeen(id string) bool {
	now := time.Now()
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()

	if _, dup := e.seen[id]; dup {
		return true
	}
	e.seen[id] = now

	if len(e.seen) > seenPruneSize {
		for k, at := range e.seen {
			if now.Sub(at) > seenRetention {
				delete(e.seen, k)
			}
		}
	}
	return false
}

const seenPruneSize = 1024

// archiveContext bounds archiving triggered by inbound traffic, which has
// no caller-supplied context.
func archiveContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}
