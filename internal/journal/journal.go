// Package journal is an append-only log of round lifecycle and score
// events. Events are journaled before they are enqueued for delivery, so
// a session interrupted mid-round can re-stage whatever never shipped.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType categorizes journal entries.
type EventType string

const (
	EventRoundStart EventType = "round_start"
	EventRoundEnd   EventType = "round_end"
	EventScore      EventType = "score"
)

// Entry is a single journaled event. Delivered is flipped once the peer
// acknowledged the corresponding message.
type Entry struct {
	Timestamp time.Time       `json:"timestamp"`
	RoundID   string          `json:"round_id"`
	MessageID string          `json:"message_id"`
	Event     EventType       `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	Delivered bool            `json:"delivered"`
}

// Journal is an append-only event log persisted as JSON in a directory.
type Journal struct {
	dir     string
	mu      sync.Mutex
	entries []Entry
}

// Open creates or opens the journal in dir.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	j := &Journal{dir: dir}
	if err := j.load(); err != nil {
		return nil, fmt.Errorf("load journal: %w", err)
	}
	return j, nil
}

// Append records an event before the engine enqueues it.
func (j *Journal) Append(roundID, messageID string, event EventType, payload interface{}) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	j.entries = append(j.entries, Entry{
		Timestamp: time.Now().UTC(),
		RoundID:   roundID,
		MessageID: messageID,
		Event:     event,
		Payload:   raw,
	})
	return j.persist()
}

// MarkDelivered flips the entry for the given message ID.
func (j *Journal) MarkDelivered(messageID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	for i := range j.entries {
		if j.entries[i].MessageID == messageID {
			j.entries[i].Delivered = true
			return j.persist()
		}
	}
	return fmt.Errorf("no journal entry for message %s", messageID)
}

// Undelivered returns entries not yet acknowledged by the peer.
func (j *Journal) Undelivered() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []Entry
	for _, e := range j.entries {
		if !e.Delivered {
			out = append(out, e)
		}
	}
	return out
}

// UndeliveredForRound filters Undelivered by round.
func (j *Journal) UndeliveredForRound(roundID string) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []Entry
	for _, e := range j.entries {
		if !e.Delivered && e.RoundID == roundID {
			out = append(out, e)
		}
	}
	return out
}

// DropRound removes all entries for a finished, archived round.
func (j *Journal) DropRound(roundID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	kept := j.entries[:0]
	for _, e := range j.entries {
		if e.RoundID != roundID {
			kept = append(kept, e)
		}
	}
	j.entries = kept
	return j.persist()
}

// Len returns the number of journaled entries.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

func (j *Journal) path() string {
	return filepath.Join(j.dir, "journal.json")
}

func (j *Journal) persist() error {
	data, err := json.MarshalIndent(j.entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(j.path(), data, 0640)
}

func (j *Journal) load() error {
	data, err := os.ReadFile(j.path())
	if err != nil {
		if os.IsNotExist(err) {
			j.entries = nil
			return nil
		}
		return err
	}
	return json.Unmarshal(data, &j.entries)
}
