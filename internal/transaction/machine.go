package transaction

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"chargebridge/internal/ocpp/protocol"
	"chargebridge/internal/shadow"
)

// State of a tracked transaction.
type State string

const (
	StateRequested State = "Requested"
	StateRejected  State = "Rejected"
	StateStarted   State = "Started"
	StateEnded     State = "Ended"
)

// stateRank orders states along the allowed Requested→{Rejected|Started}→Ended
// chain. Transitions may only move to a strictly higher rank.
func stateRank(s State) int {
	switch s {
	case StateRequested:
		return 0
	case StateRejected, StateStarted:
		return 1
	case StateEnded:
		return 2
	default:
		return -1
	}
}

// Transaction is the per (device, transaction) lifecycle record. Records are
// never deleted; they live as long as the process needs them for shadow writes.
type Transaction struct {
	ID            string
	DeviceID      string
	EvseID        int
	IDToken       string
	RemoteStartID int
	State         State
	StartTime     time.Time
	EndTime       time.Time

	// Accepted records a positive RequestStartTransaction result. It does not
	// move the state; only a Started event does.
	Accepted bool
	// StopRequested marks a pending remote stop awaiting its Ended event.
	StopRequested bool
	// Synthetic marks a record created from an Ended event that had no prior
	// history, kept so downstream state writes stay consistent.
	Synthetic bool
}

type txKey struct {
	deviceID      string
	transactionID string
}

// Machine tracks transaction lifecycles and mirrors every state change into the
// shadow store with exactly one merge write.
type Machine struct {
	mu        sync.Mutex
	byID      map[txKey]*Transaction
	requested map[string]*Transaction // keyed by deviceID+"/"+messageID of the start call

	shadow shadow.Writer
	logger *zap.Logger
	now    func() time.Time
}

// NewMachine returns an empty machine writing through the given shadow store.
func NewMachine(sh shadow.Writer, logger *zap.Logger) *Machine {
	return &Machine{
		byID:      make(map[txKey]*Transaction),
		requested: make(map[string]*Transaction),
		shadow:    sh,
		logger:    logger,
		now:       time.Now,
	}
}

func startKey(deviceID, messageID string) string {
	return deviceID + "/" + messageID
}

// OnStartRequested records a remote start command that was just issued. The
// transaction id is unknown until the device reports a Started event; the
// record is correlated through remoteStartID.
func (m *Machine) OnStartRequested(ctx context.Context, deviceID, messageID string, evseID int, idToken string, remoteStartID int) *Transaction {
	tx := &Transaction{
		DeviceID:      deviceID,
		EvseID:        evseID,
		IDToken:       idToken,
		RemoteStartID: remoteStartID,
		State:         StateRequested,
	}

	m.mu.Lock()
	m.requested[startKey(deviceID, messageID)] = tx
	m.mu.Unlock()

	m.writeSnapshot(ctx, tx)
	return tx
}

// OnStartResult applies the device's answer to a remote start. Acceptance is
// recorded but the transaction stays Requested until its Started event; the
// event is authoritative and a result arriving after it is a no-op.
func (m *Machine) OnStartResult(ctx context.Context, deviceID, messageID string, accepted bool) {
	m.mu.Lock()
	tx, ok := m.requested[startKey(deviceID, messageID)]
	if !ok {
		m.mu.Unlock()
		m.logger.Debug("start result without a requested transaction",
			zap.String("device_id", deviceID), zap.String("message_id", messageID))
		return
	}
	if tx.State != StateRequested {
		m.mu.Unlock()
		return
	}
	if accepted {
		tx.Accepted = true
		m.mu.Unlock()
		return
	}
	tx.State = StateRejected
	m.mu.Unlock()

	m.logger.Info("remote start rejected",
		zap.String("device_id", deviceID), zap.String("message_id", messageID))
	m.writeSnapshot(ctx, tx)
}

// OnStopRequested marks a transaction as awaiting a remote stop.
func (m *Machine) OnStopRequested(deviceID, transactionID string) {
	m.mu.Lock()
	tx, ok := m.byID[txKey{deviceID: deviceID, transactionID: transactionID}]
	if ok && tx.State == StateStarted {
		tx.StopRequested = true
	}
	m.mu.Unlock()
}

// OnStopResult applies the device's answer to a remote stop. A rejection clears
// the pending stop; acceptance keeps waiting for the Ended event.
func (m *Machine) OnStopResult(deviceID, transactionID string, accepted bool) {
	m.mu.Lock()
	tx, ok := m.byID[txKey{deviceID: deviceID, transactionID: transactionID}]
	if ok && !accepted {
		tx.StopRequested = false
	}
	m.mu.Unlock()

	if ok && !accepted {
		m.logger.Info("remote stop rejected",
			zap.String("device_id", deviceID), zap.String("transaction_id", transactionID))
	}
}

// Event carries the fields of a TransactionEvent the machine cares about.
type Event struct {
	Type          string // Started, Updated, Ended
	TransactionID string
	Timestamp     time.Time
	EvseID        int
	IDToken       string
	RemoteStartID int
}

// OnTransactionEvent applies a device-reported lifecycle event. A Started event
// for an unknown transaction adopts the matching Requested record when one
// exists, otherwise it creates a device-initiated transaction directly in
// Started. An Ended event for an unknown transaction creates a synthetic Ended
// record rather than being discarded.
func (m *Machine) OnTransactionEvent(ctx context.Context, deviceID string, ev Event) *Transaction {
	key := txKey{deviceID: deviceID, transactionID: ev.TransactionID}

	m.mu.Lock()
	tx, known := m.byID[key]
	changed := false

	switch ev.Type {
	case protocol.EventStarted, protocol.EventUpdated:
		if !known {
			tx = m.adoptRequestedLocked(deviceID, ev)
			if tx == nil {
				tx = &Transaction{
					DeviceID:      deviceID,
					EvseID:        ev.EvseID,
					IDToken:       ev.IDToken,
					RemoteStartID: ev.RemoteStartID,
					State:         StateRequested,
				}
				if ev.Type == protocol.EventUpdated {
					m.logger.Warn("transaction event Updated for unknown transaction",
						zap.String("device_id", deviceID), zap.String("transaction_id", ev.TransactionID))
				}
			}
			tx.ID = ev.TransactionID
			m.byID[key] = tx
		}
		if m.transitionLocked(tx, StateStarted) {
			changed = true
			if tx.StartTime.IsZero() {
				tx.StartTime = ev.Timestamp
			}
		}
	case protocol.EventEnded:
		if !known {
			tx = &Transaction{
				ID:        ev.TransactionID,
				DeviceID:  deviceID,
				EvseID:    ev.EvseID,
				State:     StateStarted,
				Synthetic: true,
			}
			m.byID[key] = tx
			m.logger.Warn("transaction Ended without prior record, keeping synthetic transaction",
				zap.String("device_id", deviceID), zap.String("transaction_id", ev.TransactionID))
		}
		if m.transitionLocked(tx, StateEnded) {
			changed = true
			tx.EndTime = ev.Timestamp
			tx.StopRequested = false
		}
	default:
		m.mu.Unlock()
		m.logger.Warn("unknown transaction event type",
			zap.String("device_id", deviceID), zap.String("event_type", ev.Type))
		return nil
	}
	m.mu.Unlock()

	m.writeEvent(ctx, tx, ev, changed)
	return tx
}

// writeEvent performs the single shadow merge for a transaction event: the
// event record always, plus the transaction snapshot when the state changed.
func (m *Machine) writeEvent(ctx context.Context, tx *Transaction, ev Event, changed bool) {
	patch := map[string]interface{}{
		"lastTransactionEvent": map[string]interface{}{
			"eventType":     ev.Type,
			"timestamp":     ev.Timestamp.UTC().Format(time.RFC3339),
			"transactionId": ev.TransactionID,
			"receivedAt":    m.now().UTC().Format(time.RFC3339),
		},
	}
	if changed {
		for k, v := range m.snapshotPatch(tx) {
			patch[k] = v
		}
	}
	if err := m.shadow.Merge(ctx, tx.DeviceID, patch); err != nil {
		m.logger.Error("shadow write for transaction event failed",
			zap.String("device_id", tx.DeviceID),
			zap.String("transaction_id", tx.ID),
			zap.Error(err))
	}
}

// adoptRequestedLocked matches a Started event to a pending remote start:
// by remoteStartId when the event carries one, otherwise a lone Requested
// record for the device is assumed to be it.
func (m *Machine) adoptRequestedLocked(deviceID string, ev Event) *Transaction {
	var lone *Transaction
	loneCount := 0
	for _, tx := range m.requested {
		if tx.DeviceID != deviceID || tx.State != StateRequested {
			continue
		}
		if ev.RemoteStartID != 0 && tx.RemoteStartID == ev.RemoteStartID {
			return tx
		}
		lone = tx
		loneCount++
	}
	if ev.RemoteStartID == 0 && loneCount == 1 {
		return lone
	}
	return nil
}

// transitionLocked moves tx forward if the target outranks the current state.
// Backward or sideways moves are dropped; Ended is terminal.
func (m *Machine) transitionLocked(tx *Transaction, to State) bool {
	if stateRank(to) <= stateRank(tx.State) {
		return false
	}
	tx.State = to
	return true
}

// Get returns a copy of the tracked transaction.
func (m *Machine) Get(deviceID, transactionID string) (Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.byID[txKey{deviceID: deviceID, transactionID: transactionID}]
	if !ok {
		return Transaction{}, false
	}
	return *tx, true
}

// writeSnapshot mirrors the transaction's current snapshot into the shadow,
// one merge write per state change.
func (m *Machine) writeSnapshot(ctx context.Context, tx *Transaction) {
	patch := m.snapshotPatch(tx)
	m.mu.Lock()
	deviceID, txID := tx.DeviceID, tx.ID
	m.mu.Unlock()

	if err := m.shadow.Merge(ctx, deviceID, patch); err != nil {
		m.logger.Error("shadow write for transaction failed",
			zap.String("device_id", deviceID),
			zap.String("transaction_id", txID),
			zap.Error(err))
	}
}

// snapshotPatch builds the merge document describing tx's current state.
func (m *Machine) snapshotPatch(tx *Transaction) map[string]interface{} {
	m.mu.Lock()
	snapshot := *tx
	m.mu.Unlock()

	info := map[string]interface{}{
		"transactionId": snapshot.ID,
		"evseId":        snapshot.EvseID,
		"status":        string(snapshot.State),
	}
	if snapshot.IDToken != "" {
		info["idToken"] = snapshot.IDToken
	}
	if snapshot.RemoteStartID != 0 {
		info["remoteStartId"] = snapshot.RemoteStartID
	}
	if !snapshot.StartTime.IsZero() {
		info["startTime"] = snapshot.StartTime.UTC().Format(time.RFC3339)
	}

	var patch map[string]interface{}
	switch snapshot.State {
	case StateEnded:
		if !snapshot.EndTime.IsZero() {
			info["stopTime"] = snapshot.EndTime.UTC().Format(time.RFC3339)
		}
		if snapshot.Synthetic {
			info["synthetic"] = true
		}
		patch = map[string]interface{}{
			"activeTransaction":        nil,
			"lastCompletedTransaction": info,
		}
	case StateRejected:
		patch = map[string]interface{}{
			"activeTransaction": nil,
			"lastRejectedStart": info,
		}
	default:
		patch = map[string]interface{}{
			"activeTransaction": info,
		}
	}
	return patch
}
