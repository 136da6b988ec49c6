package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/mwheeler/reelsync/internal/engine"
	"github.com/mwheeler/reelsync/internal/remote"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	server := NewServer(&Config{
		Port:   0, // Use random available port
		Logger: log.New(os.Stderr, "[test] ", log.LstdFlags),
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })

	// Give server time to start
	time.Sleep(100 * time.Millisecond)
	return server
}

// dialClient connects a WebSocket client and consumes the welcome
// message so subsequent reads see only broadcasts.
func dialClient(t *testing.T, ctx context.Context, server *Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read welcome message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal welcome: %v", err)
	}
	if msg.Type != MessageTypeStats {
		t.Fatalf("Expected welcome type %s, got %s", MessageTypeStats, msg.Type)
	}
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

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{
		Port:   0,
		Logger: log.New(os.Stderr, "[test] ", log.LstdFlags),
	})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if server.GetAddr() == "" {
		t.Fatal("Server address is empty")
	}

	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWebSocketConnection(t *testing.T) {
	server := testServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dialClient(t, ctx, server)

	if count := server.ClientCount(); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}
}

func TestMessageBroadcast(t *testing.T) {
	server := testServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialClient(t, ctx, server)

	testData := SceneUpdateData{SceneID: "scene-42", Title: "Test Scene"}
	dataJSON, _ := json.Marshal(testData)
	server.Broadcast(Message{
		Type:      MessageTypeSceneUpdate,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeSceneUpdate {
		t.Errorf("Expected message type %s, got %s", MessageTypeSceneUpdate, msg.Type)
	}

	var received SceneUpdateData
	if err := json.Unmarshal(msg.Data, &received); err != nil {
		t.Fatalf("Failed to unmarshal scene data: %v", err)
	}
	if received.SceneID != testData.SceneID {
		t.Errorf("Expected scene ID %s, got %s", testData.SceneID, received.SceneID)
	}
}

func TestHandlerSyncLifecycle(t *testing.T) {
	server := testServer(t)
	handler := NewHandler(server, log.New(os.Stderr, "[test-handler] ", log.LstdFlags))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialClient(t, ctx, server)

	handler.SyncStarted("job-1", "full")

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeSyncStarted {
		t.Fatalf("Expected %s, got %s", MessageTypeSyncStarted, msg.Type)
	}
	var started SyncStartedData
	if err := json.Unmarshal(msg.Data, &started); err != nil {
		t.Fatalf("Failed to unmarshal started data: %v", err)
	}
	if started.JobID != "job-1" || started.Mode != "full" {
		t.Errorf("started = %+v", started)
	}

	handler.SceneSynced("scene-1", "First Scene")

	msg = readMessage(t, ctx, conn)
	if msg.Type != MessageTypeSceneUpdate {
		t.Fatalf("Expected %s, got %s", MessageTypeSceneUpdate, msg.Type)
	}

	result := engine.NewResult("job-1")
	result.Fold(engine.Delta{Processed: 10, Created: 4, Updated: 6})
	result.Complete()
	handler.SyncCompleted(result)

	msg = readMessage(t, ctx, conn)
	if msg.Type != MessageTypeSyncComplete {
		t.Fatalf("Expected %s, got %s", MessageTypeSyncComplete, msg.Type)
	}
	var complete SyncCompleteData
	if err := json.Unmarshal(msg.Data, &complete); err != nil {
		t.Fatalf("Failed to unmarshal complete data: %v", err)
	}
	if complete.JobID != "job-1" || complete.Processed != 10 || complete.Created != 4 {
		t.Errorf("complete = %+v", complete)
	}

	// Completion also refreshes stats.
	msg = readMessage(t, ctx, conn)
	if msg.Type != MessageTypeStats {
		t.Fatalf("Expected %s, got %s", MessageTypeStats, msg.Type)
	}
	var stats StatsData
	if err := json.Unmarshal(msg.Data, &stats); err != nil {
		t.Fatalf("Failed to unmarshal stats: %v", err)
	}
	if stats.Runs != 1 || stats.ScenesSynced != 1 {
		t.Errorf("stats = %+v, want 1 run and 1 synced scene", stats)
	}
}

func TestHandlerProgress(t *testing.T) {
	server := testServer(t)
	handler := NewHandler(server, log.New(os.Stderr, "[test-handler] ", log.LstdFlags))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialClient(t, ctx, server)

	handler.ProgressUpdate(engine.Update{
		JobID:     "job-2",
		Kind:      remote.KindScene,
		Processed: 50,
		Total:     200,
		Message:   "scenes 50/200",
	})

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeProgress {
		t.Fatalf("Expected %s, got %s", MessageTypeProgress, msg.Type)
	}
	var prog ProgressData
	if err := json.Unmarshal(msg.Data, &prog); err != nil {
		t.Fatalf("Failed to unmarshal progress: %v", err)
	}
	if prog.Processed != 50 || prog.Total != 200 || prog.Percent != 25 {
		t.Errorf("progress = %+v", prog)
	}
	if prog.EntityType != "scene" {
		t.Errorf("EntityType = %q", prog.EntityType)
	}
}

func TestHandlerConflict(t *testing.T) {
	server := testServer(t)
	handler := NewHandler(server, log.New(os.Stderr, "[test-handler] ", log.LstdFlags))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialClient(t, ctx, server)

	handler.ConflictDetected(engine.ConflictEntry{
		Timestamp: time.Now(),
		Kind:      remote.KindScene,
		EntityID:  "scene-9",
		Policy:    engine.PolicyManual,
		Resolved:  false,
		Changes: map[string]engine.Change{
			"title":  {Type: engine.ChangeField},
			"rating": {Type: engine.ChangeField},
		},
	})

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeConflict {
		t.Fatalf("Expected %s, got %s", MessageTypeConflict, msg.Type)
	}
	var conflict ConflictData
	if err := json.Unmarshal(msg.Data, &conflict); err != nil {
		t.Fatalf("Failed to unmarshal conflict: %v", err)
	}
	if conflict.EntityID != "scene-9" || conflict.Policy != "manual" || conflict.Resolved {
		t.Errorf("conflict = %+v", conflict)
	}
	if len(conflict.Fields) != 2 || conflict.Fields[0] != "rating" || conflict.Fields[1] != "title" {
		t.Errorf("Fields = %v, want sorted [rating title]", conflict.Fields)
	}

	stats := handler.GetStats()
	if stats.Conflicts != 1 || stats.PendingConflicts != 1 {
		t.Errorf("stats = %+v, want 1 conflict, 1 pending", stats)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := testServer(t)

	resp, err := http.Get("http://" + server.GetAddr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode health body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("health status = %v", body["status"])
	}
}
