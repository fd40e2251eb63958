package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/go-cmp/cmp"

	"github.com/mindlog/mindlog/internal/logstore/schema"
	"github.com/mindlog/mindlog/internal/service"
)

var quiet = log.New(io.Discard, "", 0)

func newService(t *testing.T) *service.Service {
	t.Helper()
	svc := service.New(service.Options{Logger: quiet})
	t.Cleanup(func() { svc.Close() })
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	return svc
}

func startServer(t *testing.T, svc *service.Service) *Server {
	t.Helper()
	server := NewServer(svc, &Config{Host: "127.0.0.1", Port: 0, Logger: quiet})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server
}

func dial(t *testing.T, ctx context.Context, server *Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func waitForClients(t *testing.T, server *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", server.ClientCount(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(newService(t), &Config{Host: "127.0.0.1", Port: 0, Logger: quiet})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if addr := server.GetAddr(); addr == "" || addr == "127.0.0.1:0" {
		t.Fatalf("GetAddr() = %q", addr)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWebSocketConnection_SendsSnapshot(t *testing.T) {
	svc := newService(t)
	svc.SaveLog(schema.Module1, map[string]any{"tool": "Journal"})
	server := startServer(t, svc)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, server)
	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeStats {
		t.Fatalf("first message type = %s, want %s", msg.Type, MessageTypeStats)
	}

	var stats StatsData
	if err := json.Unmarshal(msg.Data, &stats); err != nil {
		t.Fatalf("Failed to decode stats: %v", err)
	}
	want := StatsData{Total: 1, ByLabel: map[string]int{"Journal": 1}}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	waitForClients(t, server, 1)
}

func TestHandler_BroadcastsChanges(t *testing.T) {
	svc := newService(t)
	server := startServer(t, svc)
	detach := NewHandler(server, quiet).Attach(svc)
	defer detach()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clients := []*websocket.Conn{dial(t, ctx, server), dial(t, ctx, server)}
	for _, conn := range clients {
		readMessage(t, ctx, conn) // snapshot
	}
	waitForClients(t, server, 2)

	saved := svc.SaveLog(schema.Module2, map[string]any{"tool": "Gratitude"})
	svc.ClearLogs(schema.Module2)

	for i, conn := range clients {
		msg := readMessage(t, ctx, conn)
		if msg.Type != MessageTypeEntry {
			t.Fatalf("client %d: type = %s, want entry", i, msg.Type)
		}
		var entry EntryData
		if err := json.Unmarshal(msg.Data, &entry); err != nil {
			t.Fatalf("Failed to decode entry: %v", err)
		}
		if entry.Action != "saved" || entry.Entry == nil || entry.Entry.UUID != saved.UUID {
			t.Errorf("client %d: entry = %+v", i, entry)
		}

		if msg := readMessage(t, ctx, conn); msg.Type != MessageTypeStats {
			t.Errorf("client %d: type = %s, want stats", i, msg.Type)
		}

		msg = readMessage(t, ctx, conn)
		if msg.Type != MessageTypeCleared {
			t.Fatalf("client %d: type = %s, want cleared", i, msg.Type)
		}
		var cleared PartitionsData
		if err := json.Unmarshal(msg.Data, &cleared); err != nil {
			t.Fatalf("Failed to decode partitions: %v", err)
		}
		if diff := cmp.Diff([]schema.Partition{schema.Module2}, cleared.Partitions); diff != "" {
			t.Errorf("client %d: partitions mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestHandler_DocumentChange(t *testing.T) {
	svc := newService(t)
	server := startServer(t, svc)
	NewHandler(server, quiet).Attach(svc)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, server)
	readMessage(t, ctx, conn)
	waitForClients(t, server, 1)

	if err := svc.SaveProfile(ctx, map[string]string{"name": "Sam"}); err != nil {
		t.Fatalf("SaveProfile() failed: %v", err)
	}

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeDocument {
		t.Fatalf("type = %s, want document", msg.Type)
	}
	var doc DocumentData
	if err := json.Unmarshal(msg.Data, &doc); err != nil || doc.Document != "profile" {
		t.Errorf("document = %+v, %v", doc, err)
	}
}

func TestHTTPEndpoints(t *testing.T) {
	svc := newService(t)
	first := svc.SaveLog(schema.Module1, map[string]any{"tool": "Journal"})
	second := svc.SaveLog(schema.Module3, map[string]any{"tool": "Breathing"})

	ts := httptest.NewServer(NewServer(svc, &Config{Logger: quiet}).Handler())
	defer ts.Close()

	get := func(path string, want int, v any) {
		t.Helper()
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("GET %s status = %d, want %d", path, resp.StatusCode, want)
		}
		if v != nil {
			if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
				t.Fatalf("GET %s: decode failed: %v", path, err)
			}
		}
	}

	var all []*schema.LogEntry
	get("/api/logs", http.StatusOK, &all)
	if len(all) != 2 || all[0].UUID != second.UUID || all[1].UUID != first.UUID {
		t.Errorf("/api/logs returned %d entries in the wrong order", len(all))
	}

	var one []*schema.LogEntry
	get("/api/logs?partition=3", http.StatusOK, &one)
	if len(one) != 1 || one[0].UUID != second.UUID {
		t.Errorf("/api/logs?partition=3 = %+v", one)
	}

	get("/api/logs?partition=module9", http.StatusBadRequest, nil)

	var stats StatsData
	get("/api/stats", http.StatusOK, &stats)
	if stats.Total != 2 {
		t.Errorf("stats.Total = %d, want 2", stats.Total)
	}

	var health map[string]any
	get("/health", http.StatusOK, &health)
	if health["status"] != "ok" {
		t.Errorf("health = %v", health)
	}

	get("/missing", http.StatusNotFound, nil)
}
