package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrDuplicateID is returned when a message id is already outstanding for the
// same device.
var ErrDuplicateID = errors.New("pending: message id already registered")

// OutcomeKind classifies how a pending call completed.
type OutcomeKind int

const (
	OutcomeResult OutcomeKind = iota
	OutcomeError
	OutcomeTimeout
	OutcomeCanceled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeResult:
		return "result"
	case OutcomeError:
		return "error"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the terminal result of a pending call.
type Outcome struct {
	Kind             OutcomeKind
	Payload          json.RawMessage
	ErrorCode        string
	ErrorDescription string
	Details          json.RawMessage
}

// Entry is one outstanding call awaiting its response. The embedded one-shot
// channel doubles as the caller-visible future.
type Entry struct {
	DeviceID  string
	MessageID string
	Action    string
	IssuedAt  time.Time
	TimeoutAt time.Time

	done chan Outcome
}

// Done exposes the completion channel. It receives exactly one Outcome.
func (e *Entry) Done() <-chan Outcome {
	return e.done
}

// Await blocks until the entry resolves or the context ends.
func (e *Entry) Await(ctx context.Context) (Outcome, error) {
	select {
	case out := <-e.done:
		return out, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

type entryKey struct {
	deviceID  string
	messageID string
}

const shardCount = 16

type shard struct {
	mu      sync.Mutex
	entries map[entryKey]*Entry
}

// Table tracks outstanding calls keyed by (deviceId, messageId). Entries are
// removed exactly once: by Resolve, by ExpireOlderThan, or by CancelDevice,
// whichever wins the atomic remove. Shards keep devices from contending on one
// lock.
type Table struct {
	shards [shardCount]shard
	logger *zap.Logger
	now    func() time.Time
}

// NewTable returns an empty table.
func NewTable(logger *zap.Logger) *Table {
	t := &Table{logger: logger, now: time.Now}
	for i := range t.shards {
		t.shards[i].entries = make(map[entryKey]*Entry)
	}
	return t
}

func (t *Table) shardFor(deviceID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(deviceID))
	return &t.shards[h.Sum32()%shardCount]
}

// Register creates an entry for an outgoing call. The returned entry resolves
// exactly once, through a matching response, timeout expiry, or cancellation.
func (t *Table) Register(deviceID, messageID, action string, timeout time.Duration) (*Entry, error) {
	now := t.now().UTC()
	entry := &Entry{
		DeviceID:  deviceID,
		MessageID: messageID,
		Action:    action,
		IssuedAt:  now,
		TimeoutAt: now.Add(timeout),
		done:      make(chan Outcome, 1),
	}

	s := t.shardFor(deviceID)
	key := entryKey{deviceID: deviceID, messageID: messageID}

	s.mu.Lock()
	if _, exists := s.entries[key]; exists {
		s.mu.Unlock()
		return nil, ErrDuplicateID
	}
	s.entries[key] = entry
	s.mu.Unlock()

	return entry, nil
}

// Resolve completes the entry for (deviceID, messageID) and reports whether it
// still existed. Orphan resolutions return false; they are the caller's to log,
// not an error, since a late response may legitimately race a timeout.
func (t *Table) Resolve(deviceID, messageID string, out Outcome) bool {
	s := t.shardFor(deviceID)
	key := entryKey{deviceID: deviceID, messageID: messageID}

	s.mu.Lock()
	entry, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	entry.done <- out
	return true
}

// ExpireOlderThan removes and resolves every entry whose deadline passed,
// returning the expired entries. Resolution happens inside the removal so a
// racing Resolve observes the entry gone.
func (t *Table) ExpireOlderThan(now time.Time) []*Entry {
	var expired []*Entry
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for key, entry := range s.entries {
			if entry.TimeoutAt.After(now) {
				continue
			}
			delete(s.entries, key)
			expired = append(expired, entry)
		}
		s.mu.Unlock()
	}

	for _, entry := range expired {
		entry.done <- Outcome{Kind: OutcomeTimeout}
		t.logger.Warn("pending call timed out",
			zap.String("device_id", entry.DeviceID),
			zap.String("message_id", entry.MessageID),
			zap.String("action", entry.Action))
	}
	return expired
}

// CancelDevice resolves every outstanding entry for a device with a Canceled
// outcome, used when its session closes. Returns the number canceled.
func (t *Table) CancelDevice(deviceID string) int {
	s := t.shardFor(deviceID)

	var canceled []*Entry
	s.mu.Lock()
	for key, entry := range s.entries {
		if key.deviceID != deviceID {
			continue
		}
		delete(s.entries, key)
		canceled = append(canceled, entry)
	}
	s.mu.Unlock()

	for _, entry := range canceled {
		entry.done <- Outcome{Kind: OutcomeCanceled, ErrorDescription: "session closed"}
	}
	return len(canceled)
}

// Len reports the number of outstanding entries across all shards.
func (t *Table) Len() int {
	total := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		total += len(s.entries)
		s.mu.Unlock()
	}
	return total
}

// RunSweeper expires timed out entries every interval until the context ends.
func (t *Table) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.ExpireOlderThan(now.UTC())
		}
	}
}
