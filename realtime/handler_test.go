package realtime

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

type fakeVerifier map[string]string

func (f fakeVerifier) UserIDFromToken(token string) (string, error) {
	if owner, ok := f[token]; ok {
		return owner, nil
	}
	return "", errors.New("invalid token")
}

func startServer(t *testing.T, opts ...Option) (*Hub, string) {
	t.Helper()
	hub := NewHub(nil, prometheus.NewRegistry())
	h := NewHandler(hub, fakeVerifier{"good": "alice"}, nil, opts...)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Inbound {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var in Inbound
	if err := sonic.Unmarshal(data, &in); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return in
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandlerClosesWith4001OnBadToken(t *testing.T) {
	for _, query := range []string{"", "?token=bad"} {
		_, url := startServer(t)
		conn := dial(t, url+query)
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err := conn.ReadMessage()
		if !websocket.IsCloseError(err, CloseAuthFailed) {
			t.Fatalf("%q: expected close 4001, got %v", query, err)
		}
	}
}

func TestHandlerDeliversBroadcastsToOwner(t *testing.T) {
	hub, url := startServer(t)
	conn := dial(t, url+"?token=good")

	if in := readFrame(t, conn); in.Type != FrameConnected {
		t.Fatalf("expected connected frame, got %s", in.Type)
	}
	waitFor(t, func() bool { return hub.Count("alice") == 1 })

	if n := hub.Broadcast("alice", []byte(`{"type":"sync","data":{"entity_id":"t1"}}`)); n != 1 {
		t.Fatalf("expected one delivery, got %d", n)
	}
	in := readFrame(t, conn)
	if in.Type != FrameSync || !strings.Contains(string(in.Data), "t1") {
		t.Fatalf("unexpected frame: %s %s", in.Type, in.Data)
	}

	_ = conn.Close()
	waitFor(t, func() bool { return hub.Count("alice") == 0 })
}

func TestHandlerAnswersPing(t *testing.T) {
	_, url := startServer(t)
	conn := dial(t, url+"?token=good")
	readFrame(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if in := readFrame(t, conn); in.Type != FramePong {
		t.Fatalf("expected pong, got %s", in.Type)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`not json`)); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	if in := readFrame(t, conn); in.Type != FrameError {
		t.Fatalf("expected error frame, got %s", in.Type)
	}
}

func TestHandlerSendsPingsAndDropsSilentPeers(t *testing.T) {
	hub, url := startServer(t, WithHeartbeat(20*time.Millisecond, 60*time.Millisecond))
	conn := dial(t, url+"?token=good")
	readFrame(t, conn)

	if in := readFrame(t, conn); in.Type != FramePing {
		t.Fatalf("expected ping, got %s", in.Type)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
				t.Fatalf("expected going-away close, got %v", err)
			}
			break
		}
	}
	waitFor(t, func() bool { return hub.Count("alice") == 0 })
}

func TestHandlerKeepsPeerThatAnswersPings(t *testing.T) {
	hub, url := startServer(t, WithHeartbeat(20*time.Millisecond, 60*time.Millisecond))
	conn := dial(t, url+"?token=good")
	readFrame(t, conn)

	deadline := time.Now().Add(250 * time.Millisecond)
	for time.Now().Before(deadline) {
		in := readFrame(t, conn)
		if in.Type == FramePing {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`)); err != nil {
				t.Fatalf("write pong: %v", err)
			}
		}
	}
	if hub.Count("alice") != 1 {
		t.Fatalf("responsive peer was dropped")
	}
}
