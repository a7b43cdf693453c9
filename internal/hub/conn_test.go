package hub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/solaris-dev/pylon/internal/observability"
	"github.com/solaris-dev/pylon/internal/presence"
	"github.com/solaris-dev/pylon/internal/store"
)

type wireMessage struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

func newTestHub(t *testing.T) (*store.Store, *websocket.Conn) {
	t.Helper()
	st := store.New(nil)
	metrics := observability.NewMetrics(fmt.Sprintf("test_hub_%d", time.Now().UnixNano()))
	h := New(st, metrics)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sock, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.ServeConn(r.Context(), sock)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return st, client
}

func readMessage(t *testing.T, conn *websocket.Conn) wireMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg wireMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read message: %v", err)
	}
	return msg
}

func sendRaw(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func onlineRecord(name string) presence.Record {
	return presence.Record{
		User:   presence.Profile{ID: name, Username: name},
		Status: presence.StatusOnline,
		KV:     map[string]string{},
	}
}

func TestConnectSendsHello(t *testing.T) {
	_, client := newTestHub(t)

	msg := readMessage(t, client)
	if msg.Op != int(OpEvent) {
		t.Fatalf("hello op = %d", msg.Op)
	}
	var hello struct {
		Message      string `json:"message"`
		ConnectionID string `json:"connectionId"`
	}
	if err := json.Unmarshal(msg.D, &hello); err != nil {
		t.Fatalf("unmarshal hello: %v", err)
	}
	if hello.Message != "connected" || hello.ConnectionID == "" {
		t.Fatalf("hello = %+v", hello)
	}
}

func TestHydratePushesOnlyCachedRecords(t *testing.T) {
	st, client := newTestHub(t)
	st.Put("u1", onlineRecord("u1"))
	readMessage(t, client) // hello

	sendRaw(t, client, `{"op":2,"d":["u1","missing"]}`)

	msg := readMessage(t, client)
	if msg.Op != int(OpEvent) {
		t.Fatalf("op = %d", msg.Op)
	}
	var ev struct {
		UserID string          `json:"userId"`
		Status presence.Status `json:"status"`
	}
	if err := json.Unmarshal(msg.D, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if ev.UserID != "u1" || ev.Status != presence.StatusOnline {
		t.Fatalf("event = %+v", ev)
	}

	// "missing" has no record, so the only further traffic is the
	// heartbeat ack we ask for next.
	sendRaw(t, client, `{"op":3}`)
	msg = readMessage(t, client)
	if msg.Op != int(OpHeartbeat) {
		t.Fatalf("expected heartbeat ack, got op %d (%s)", msg.Op, msg.D)
	}
}

func TestTrackDeliversLaterUpdates(t *testing.T) {
	st, client := newTestHub(t)
	readMessage(t, client) // hello

	sendRaw(t, client, `{"op":1,"d":["u1"]}`)
	// Synchronize on the tracked set before publishing.
	sendRaw(t, client, `{"op":3}`)
	if msg := readMessage(t, client); msg.Op != int(OpHeartbeat) {
		t.Fatalf("expected heartbeat ack, got op %d", msg.Op)
	}

	st.Put("u2", onlineRecord("u2")) // not watched by this conn
	st.Put("u1", onlineRecord("u1"))

	msg := readMessage(t, client)
	if msg.Op != int(OpEvent) {
		t.Fatalf("op = %d", msg.Op)
	}
	var ev struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(msg.D, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if ev.UserID != "u1" {
		t.Fatalf("got event for %q, want u1", ev.UserID)
	}
}

func TestMalformedInputKeepsConnectionOpen(t *testing.T) {
	_, client := newTestHub(t)
	readMessage(t, client) // hello

	for _, raw := range []string{
		`not json`,
		`{"op":99,"d":[]}`,
		`{"op":1,"d":"oops"}`,
		`{"d":["u1"]}`,
	} {
		sendRaw(t, client, raw)
		msg := readMessage(t, client)
		if msg.Op != int(OpError) {
			t.Fatalf("payload %q: op = %d, want error", raw, msg.Op)
		}
		var ep struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(msg.D, &ep); err != nil || ep.Error == "" {
			t.Fatalf("payload %q: error body = %s (%v)", raw, msg.D, err)
		}
	}

	// Still serviceable after every rejection.
	sendRaw(t, client, `{"op":3}`)
	msg := readMessage(t, client)
	if msg.Op != int(OpHeartbeat) {
		t.Fatalf("op = %d, want heartbeat ack", msg.Op)
	}
	var ack struct {
		Status string `json:"status"`
		TS     int64  `json:"ts"`
	}
	if err := json.Unmarshal(msg.D, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ack.Status != "ok" || ack.TS == 0 {
		t.Fatalf("ack = %+v", ack)
	}
}

func TestCloseUnsubscribesFromStore(t *testing.T) {
	st, client := newTestHub(t)
	readMessage(t, client) // hello
	if n := st.SubscriberCount(); n != 1 {
		t.Fatalf("SubscriberCount() = %d, want 1", n)
	}

	client.Close()

	deadline := time.Now().Add(2 * time.Second)
	for st.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber not removed after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
