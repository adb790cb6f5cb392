package wsclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeServer answers logsSubscribe/accountSubscribe acks and then pushes one
// notification, mirroring the shape of Solana's pubsub protocol closely
// enough to exercise Client's dispatch loop end to end.
func fakeServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		for {
			var req rpcRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}

			ack := rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage("42")}
			if err := conn.WriteJSON(ack); err != nil {
				return
			}

			note := struct {
				JSONRPC string `json:"jsonrpc"`
				Method  string `json:"method"`
				Params  struct {
					Subscription uint64          `json:"subscription"`
					Result       json.RawMessage `json:"result"`
				} `json:"params"`
			}{JSONRPC: "2.0", Method: req.Method + "Notification"}
			note.Params.Subscription = 42
			note.Params.Result = json.RawMessage(`{"ok":true}`)
			if err := conn.WriteJSON(note); err != nil {
				return
			}
		}
	}))
}

func TestAccountSubscribeReceivesNotification(t *testing.T) {
	srv := fakeServer(t)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := New(wsURL, 50*time.Millisecond, 50*time.Millisecond, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Close()

	received := make(chan json.RawMessage, 1)
	subID, err := c.AccountSubscribe("SomeAddress111", func(data json.RawMessage) {
		received <- data
	})
	if err != nil {
		t.Fatalf("AccountSubscribe failed: %v", err)
	}
	if subID != 42 {
		t.Errorf("subID = %d, want 42", subID)
	}

	select {
	case data := <-received:
		if !strings.Contains(string(data), "ok") {
			t.Errorf("notification data = %s, want to contain ok", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestLogsSubscribeAck(t *testing.T) {
	srv := fakeServer(t)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := New(wsURL, 50*time.Millisecond, 50*time.Millisecond, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Close()

	subID, err := c.LogsSubscribe([]string{"TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"}, "finalized", func(data json.RawMessage) {})
	if err != nil {
		t.Fatalf("LogsSubscribe failed: %v", err)
	}
	if subID != 42 {
		t.Errorf("subID = %d, want 42", subID)
	}
}
