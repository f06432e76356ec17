package session

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chargebridge/internal/backend"
	"chargebridge/internal/handlers"
	"chargebridge/internal/pending"
	"chargebridge/internal/registry"
	"chargebridge/internal/router"
	"chargebridge/internal/shadow"
	"chargebridge/internal/transaction"
)

type gatewayFixture struct {
	manager *Manager
	table   *pending.Table
	store   *shadow.Memory
	server  *httptest.Server
}

func newGatewayFixture(t *testing.T, deviceIDs ...string) *gatewayFixture {
	t.Helper()
	logger := zap.NewNop()
	store := shadow.NewMemory()
	table := pending.NewTable(logger)
	machine := transaction.NewMachine(store, logger)
	rt := router.New(handlers.NewActionMap(store, machine, logger), table, store, logger)
	bus := backend.NewMemoryBus(logger)

	cfg := Config{
		IdleTimeout:    5 * time.Second,
		WriteTimeout:   2 * time.Second,
		PingInterval:   time.Second,
		ViolationLimit: 2,
	}
	manager := NewManager(registry.NewStatic(deviceIDs...), bus, rt, table, cfg, logger)
	wsServer := NewServer(manager, "/ocpp/", []string{"ocpp2.0.1", "ocpp1.6"}, logger)

	ts := httptest.NewServer(http.HandlerFunc(wsServer.HandleWS))
	t.Cleanup(func() {
		manager.CloseAll()
		ts.Close()
	})

	return &gatewayFixture{manager: manager, table: table, store: store, server: ts}
}

func (f *gatewayFixture) dial(t *testing.T, deviceID string, subprotocols ...string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ocpp/" + deviceID
	dialer := websocket.Dialer{Subprotocols: subprotocols, HandshakeTimeout: 2 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", deviceID, err)
	}
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	return conn
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never met within %s", timeout)
}

func TestHeartbeatEndToEnd(t *testing.T) {
	fixture := newGatewayFixture(t, "cp-1")
	conn := fixture.dial(t, "cp-1", "ocpp2.0.1")

	if got := conn.Subprotocol(); got != "ocpp2.0.1" {
		t.Fatalf("expected negotiated subprotocol ocpp2.0.1, got %q", got)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`[2,"m1","Heartbeat",{}]`)); err != nil {
		t.Fatalf("write heartbeat: %v", err)
	}

	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read response: %v", err)
	}

	var array []json.RawMessage
	if err := json.Unmarshal(frame, &array); err != nil {
		t.Fatalf("response is not a JSON array: %v", err)
	}
	if len(array) != 3 || string(array[0]) != "3" || string(array[1]) != `"m1"` {
		t.Fatalf("unexpected response frame: %s", frame)
	}
	var payload struct {
		CurrentTime time.Time `json:"currentTime"`
	}
	if err := json.Unmarshal(array[2], &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.CurrentTime.IsZero() {
		t.Fatalf("expected currentTime in heartbeat response")
	}
}

func TestUnregisteredDeviceRejected(t *testing.T) {
	fixture := newGatewayFixture(t, "cp-1")
	conn := fixture.dial(t, "cp-unknown", "ocpp2.0.1")

	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, CloseUnregisteredDevice) {
		t.Fatalf("expected close code %d, got %v", CloseUnregisteredDevice, err)
	}
	if fixture.manager.IsActive("cp-unknown") {
		t.Fatalf("unregistered device must never become active")
	}
}

func TestProtocolMismatchRejected(t *testing.T) {
	fixture := newGatewayFixture(t, "cp-1")
	conn := fixture.dial(t, "cp-1")

	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, CloseProtocolMismatch) {
		t.Fatalf("expected close code %d, got %v", CloseProtocolMismatch, err)
	}
}

func TestMissingDeviceIDRejected(t *testing.T) {
	fixture := newGatewayFixture(t, "cp-1")

	url := "ws" + strings.TrimPrefix(fixture.server.URL, "http") + "/ocpp/"
	dialer := websocket.Dialer{Subprotocols: []string{"ocpp2.0.1"}, HandshakeTimeout: 2 * time.Second}
	_, resp, err := dialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected handshake to fail without a device id")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 response, got %+v", resp)
	}
}

func TestMalformedFrameGetsCallError(t *testing.T) {
	fixture := newGatewayFixture(t, "cp-1")
	conn := fixture.dial(t, "cp-1", "ocpp2.0.1")

	// Wrong arity but the message id survives, so a CallError comes back.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`[2,"m9","Heartbeat"]`)); err != nil {
		t.Fatalf("write malformed frame: %v", err)
	}

	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	var array []json.RawMessage
	if err := json.Unmarshal(frame, &array); err != nil {
		t.Fatalf("response is not a JSON array: %v", err)
	}
	if len(array) != 5 || string(array[0]) != "4" || string(array[1]) != `"m9"` {
		t.Fatalf("expected a CALLERROR for m9, got %s", frame)
	}
	var code string
	if err := json.Unmarshal(array[2], &code); err != nil {
		t.Fatalf("decode code: %v", err)
	}
	if code != "FormationViolation" {
		t.Fatalf("expected FormationViolation, got %s", code)
	}
}

func TestMalformedFrameLimitClosesSession(t *testing.T) {
	fixture := newGatewayFixture(t, "cp-1")
	conn := fixture.dial(t, "cp-1", "ocpp2.0.1")

	waitFor(t, time.Second, func() bool { return fixture.manager.IsActive("cp-1") })

	// The fixture closes sessions after two consecutive undecodable frames.
	for i := 0; i < 2; i++ {
		if err := conn.WriteMessage(websocket.TextMessage, []byte("garbage")); err != nil {
			t.Fatalf("write garbage: %v", err)
		}
	}

	waitFor(t, 2*time.Second, func() bool { return !fixture.manager.IsActive("cp-1") })
}

func TestPongCountsAsActivity(t *testing.T) {
	fixture := newGatewayFixture(t, "cp-1")
	conn := fixture.dial(t, "cp-1", "ocpp2.0.1")

	// Keep reading so the client's default ping handler answers with pongs.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	waitFor(t, time.Second, func() bool { return fixture.manager.IsActive("cp-1") })

	lastActivity := func() time.Time {
		for _, info := range fixture.manager.Snapshot() {
			if info.DeviceID == "cp-1" {
				return info.LastActivity
			}
		}
		return time.Time{}
	}
	initial := lastActivity()

	// The fixture pings every second; the pong alone must register as activity.
	waitFor(t, 3*time.Second, func() bool { return lastActivity().After(initial) })
}

func TestDuplicateConnectionReplacesSession(t *testing.T) {
	fixture := newGatewayFixture(t, "cp-1")
	first := fixture.dial(t, "cp-1", "ocpp2.0.1")
	waitFor(t, time.Second, func() bool { return fixture.manager.IsActive("cp-1") })

	second := fixture.dial(t, "cp-1", "ocpp2.0.1")

	// The old connection dies, the device stays active through the new one.
	_, _, err := first.ReadMessage()
	if err == nil {
		t.Fatalf("expected first connection to be closed")
	}
	waitFor(t, time.Second, func() bool { return fixture.manager.IsActive("cp-1") })

	if err := second.WriteMessage(websocket.TextMessage, []byte(`[2,"m1","Heartbeat",{}]`)); err != nil {
		t.Fatalf("write heartbeat on new connection: %v", err)
	}
	if _, _, err := second.ReadMessage(); err != nil {
		t.Fatalf("read heartbeat response on new connection: %v", err)
	}
}

func TestSessionCloseCancelsPendingCalls(t *testing.T) {
	fixture := newGatewayFixture(t, "cp-1")
	conn := fixture.dial(t, "cp-1", "ocpp2.0.1")
	waitFor(t, time.Second, func() bool { return fixture.manager.IsActive("cp-1") })

	entry, err := fixture.table.Register("cp-1", "m1", "RequestStartTransaction", time.Minute)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	conn.Close()

	select {
	case out := <-entry.Done():
		if out.Kind != pending.OutcomeCanceled {
			t.Fatalf("expected canceled outcome, got %s", out.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pending call never canceled on session close")
	}
}

func TestSnapshotListsSessions(t *testing.T) {
	fixture := newGatewayFixture(t, "cp-1", "cp-2")
	fixture.dial(t, "cp-1", "ocpp2.0.1")
	fixture.dial(t, "cp-2", "ocpp1.6")

	waitFor(t, time.Second, func() bool {
		return fixture.manager.IsActive("cp-1") && fixture.manager.IsActive("cp-2")
	})

	infos := fixture.manager.Snapshot()
	if len(infos) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(infos))
	}
	seen := make(map[string]string)
	for _, info := range infos {
		seen[info.DeviceID] = info.Protocol
		if info.State != "active" {
			t.Fatalf("expected active state, got %s", info.State)
		}
	}
	if seen["cp-1"] != "ocpp2.0.1" || seen["cp-2"] != "ocpp1.6" {
		t.Fatalf("unexpected protocols: %+v", seen)
	}
}

func TestBootNotificationWritesShadow(t *testing.T) {
	fixture := newGatewayFixture(t, "cp-1")
	conn := fixture.dial(t, "cp-1", "ocpp2.0.1")

	boot := `[2,"m1","BootNotification",{"reason":"PowerUp","chargingStation":{"model":"EVB-42","vendorName":"Acme"}}]`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(boot)); err != nil {
		t.Fatalf("write boot notification: %v", err)
	}

	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	var array []json.RawMessage
	if err := json.Unmarshal(frame, &array); err != nil || len(array) != 3 {
		t.Fatalf("unexpected response: %s", frame)
	}
	var payload struct {
		Status   string `json:"status"`
		Interval int    `json:"interval"`
	}
	if err := json.Unmarshal(array[2], &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Status != "Accepted" {
		t.Fatalf("expected Accepted registration, got %s", payload.Status)
	}
	if payload.Interval != 10 {
		t.Fatalf("expected heartbeat interval 10, got %d", payload.Interval)
	}

	waitFor(t, time.Second, func() bool {
		doc := fixture.store.Document("cp-1")
		_, ok := doc["chargingStation"]
		return ok
	})
}
