package opsbus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/machina/internal/autonomic"
)

func TestDeliver_NoClientsRetriesThenFails(t *testing.T) {
	b := NewBus(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := b.Deliver(ctx, autonomic.Alert{Level: "hygiene", Message: "cap breached"})
	if err == nil {
		t.Fatal("expected delivery to fail with no connected clients")
	}
}

func TestDeliver_BroadcastsToConnectedClient(t *testing.T) {
	b := NewBus(nil)
	srv := httptest.NewServer(http.HandlerFunc(b.ServeHTTP))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the server goroutine a moment to register the client.
	deadline := time.Now().Add(time.Second)
	for b.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if b.ClientCount() != 1 {
		t.Fatalf("ClientCount() = %d, want 1", b.ClientCount())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.Deliver(ctx, autonomic.Alert{Level: "hygiene", Message: "cap breached", TsMs: 1}); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var got autonomic.Alert
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Message != "cap breached" {
		t.Errorf("got alert %+v, want message %q", got, "cap breached")
	}
}

func TestRun_DrainsQueueAndDelivers(t *testing.T) {
	b := NewBus(nil)
	srv := httptest.NewServer(http.HandlerFunc(b.ServeHTTP))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	queue := autonomic.NewAlertQueue()
	queue.Enqueue(autonomic.Alert{Level: "regression", Message: "rollback triggered"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx, queue, 10*time.Millisecond)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var got autonomic.Alert
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Message != "rollback triggered" {
		t.Errorf("got alert %+v, want message %q", got, "rollback triggered")
	}
}
