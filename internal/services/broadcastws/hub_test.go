package broadcastws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	logx "slotwatch/pkg/logx"
)

func dialTestHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.handleWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Count() < n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.Count(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcastReachesClient(t *testing.T) {
	h := New(Config{}, logx.Nop())
	conn := dialTestHub(t, h)
	waitForClients(t, h, 1)

	payload := map[string]any{"available": []int{101, 102}, "timestamp": "2026-01-01T00:00:00Z"}
	b, _ := json.Marshal(payload)
	h.Broadcast(context.Background(), b)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got struct {
		Available []int  `json:"available"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if len(got.Available) != 2 || got.Available[0] != 101 {
		t.Fatalf("available = %v", got.Available)
	}
}

func TestBroadcastFansOut(t *testing.T) {
	h := New(Config{}, logx.Nop())
	c1 := dialTestHub(t, h)
	c2 := dialTestHub(t, h)
	waitForClients(t, h, 2)

	h.Broadcast(context.Background(), []byte(`{"available":[],"timestamp":"t"}`))

	for i, conn := range []*websocket.Conn{c1, c2} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, _, err := conn.ReadMessage(); err != nil {
			t.Fatalf("client %d read: %v", i, err)
		}
	}
}

func TestDisconnectedClientIsPruned(t *testing.T) {
	h := New(Config{}, logx.Nop())
	conn := dialTestHub(t, h)
	waitForClients(t, h, 1)

	conn.Close()
	h.Broadcast(context.Background(), []byte(`x`))

	deadline := time.Now().Add(2 * time.Second)
	for h.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client not pruned, count = %d", h.Count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
