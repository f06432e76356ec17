package command

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chargebridge/internal/backend"
	"chargebridge/internal/ocpp"
	"chargebridge/internal/pending"
)

type fakeSessions struct {
	active map[string]bool
}

func (f *fakeSessions) IsActive(deviceID string) bool {
	return f.active[deviceID]
}

func newTestIngress(t *testing.T, activeDevices ...string) (*Ingress, *pending.Table, backend.Bus) {
	t.Helper()
	logger := zap.NewNop()
	table := pending.NewTable(logger)
	bus := backend.NewMemoryBus(logger)

	sessions := &fakeSessions{active: make(map[string]bool)}
	for _, id := range activeDevices {
		sessions.active[id] = true
	}
	return NewIngress(sessions, table, bus, 30*time.Second, logger), table, bus
}

func TestIssueCallNoSession(t *testing.T) {
	ingress, table, _ := newTestIngress(t)

	_, _, err := ingress.IssueCall(context.Background(), "cp-offline", "Reset", nil, 0)
	require.ErrorIs(t, err, ErrNoSession)
	require.Zero(t, table.Len(), "nothing may be registered for an offline device")
}

func TestRequestStartFrameShape(t *testing.T) {
	ingress, _, bus := newTestIngress(t, "cp-1")
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, backend.OutTopic("cp-1"))
	require.NoError(t, err)
	defer sub.Close()

	entry, messageID, remoteStartID, err := ingress.RequestStart(ctx, StartRequest{
		DeviceID: "cp-1",
		IDTag:    "tag-1",
		EvseID:   2,
	})
	require.NoError(t, err)
	require.NotEmpty(t, messageID)
	require.Positive(t, remoteStartID)
	require.Equal(t, "RequestStartTransaction", entry.Action)

	var frame []byte
	select {
	case frame = <-sub.C():
	case <-time.After(time.Second):
		t.Fatalf("no frame published to out topic")
	}

	msg, err := ocpp.Decode(frame)
	require.NoError(t, err)
	require.Equal(t, ocpp.MessageTypeCall, msg.Type)
	require.Equal(t, messageID, msg.UniqueID)
	require.Equal(t, "RequestStartTransaction", msg.Action)

	var payload struct {
		IDToken struct {
			IDToken string `json:"idToken"`
			Type    string `json:"type"`
		} `json:"idToken"`
		EvseID        int `json:"evseId"`
		RemoteStartID int `json:"remoteStartId"`
	}
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	require.Equal(t, "tag-1", payload.IDToken.IDToken)
	require.Equal(t, "ISO14443", payload.IDToken.Type)
	require.Equal(t, 2, payload.EvseID)
	require.Equal(t, remoteStartID, payload.RemoteStartID)
}

func TestRequestStartDefaults(t *testing.T) {
	ingress, _, bus := newTestIngress(t, "cp-1")
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, backend.OutTopic("cp-1"))
	require.NoError(t, err)
	defer sub.Close()

	_, _, _, err = ingress.RequestStart(ctx, StartRequest{DeviceID: "cp-1"})
	require.NoError(t, err)

	frame := <-sub.C()
	msg, err := ocpp.Decode(frame)
	require.NoError(t, err)

	var payload struct {
		IDToken struct {
			IDToken string `json:"idToken"`
		} `json:"idToken"`
		EvseID int `json:"evseId"`
	}
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	require.NotEmpty(t, payload.IDToken.IDToken, "a missing idTag gets a generated one")
	require.Equal(t, 1, payload.EvseID)
}

func TestIssueCallResolution(t *testing.T) {
	ingress, table, _ := newTestIngress(t, "cp-1")
	ctx := context.Background()

	entry, messageID, err := ingress.RequestStop(ctx, "cp-1", "tx-1", 0)
	require.NoError(t, err)

	ok := table.Resolve("cp-1", messageID, pending.Outcome{
		Kind:    pending.OutcomeResult,
		Payload: json.RawMessage(`{"status":"Accepted"}`),
	})
	require.True(t, ok)

	out, err := entry.Await(ctx)
	require.NoError(t, err)
	require.True(t, OutcomeAccepted(out))
}

func TestIssueCallTimeout(t *testing.T) {
	ingress, table, _ := newTestIngress(t, "cp-1")
	ctx := context.Background()

	entry, _, err := ingress.IssueCall(ctx, "cp-1", "Reset", map[string]interface{}{}, 50*time.Millisecond)
	require.NoError(t, err)

	expired := table.ExpireOlderThan(time.Now().Add(time.Second))
	require.Len(t, expired, 1)

	out, err := entry.Await(ctx)
	require.NoError(t, err)
	require.Equal(t, pending.OutcomeTimeout, out.Kind)
	require.False(t, OutcomeAccepted(out))
}

func TestOutcomeAccepted(t *testing.T) {
	require.True(t, OutcomeAccepted(pending.Outcome{
		Kind:    pending.OutcomeResult,
		Payload: json.RawMessage(`{"status":"Accepted"}`),
	}))
	require.False(t, OutcomeAccepted(pending.Outcome{
		Kind:    pending.OutcomeResult,
		Payload: json.RawMessage(`{"status":"Rejected"}`),
	}))
	require.False(t, OutcomeAccepted(pending.Outcome{
		Kind:    pending.OutcomeResult,
		Payload: json.RawMessage(`not json`),
	}))
	require.False(t, OutcomeAccepted(pending.Outcome{Kind: pending.OutcomeError}))
}
