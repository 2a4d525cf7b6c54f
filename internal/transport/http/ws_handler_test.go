package http

import (
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestWebSocketIngestFlow(t *testing.T) {
	server := newTestServer(t, nil)

	u := "ws" + server.URL[len("http"):] + "/ws?userId=u1"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Expect the snapshot first.
	_, payload := readNext(conn, t, "progress")
	if payload == nil {
		t.Fatalf("expected progress payload, got nil")
	}

	ingest := map[string]any{
		"type": "ingest",
		"payload": map[string]any{
			"quizId":         "q1",
			"totalQuestions": 4,
			"correct":        2,
			"incorrect":      2,
			"occurredAt":     fixedNow.Add(-time.Minute).Format(time.RFC3339),
		},
	}
	if err := conn.WriteJSON(ingest); err != nil {
		t.Fatalf("write ingest: %v", err)
	}

	// Expect the ingest ack and the pushed update, in either order. The first
	// read of a new user also persists it, so an empty update may come first.
	ingestedSeen := false
	progressSeen := false
	for i := 0; i < 4 && !(ingestedSeen && progressSeen); i++ {
		typ, payload := readNext(conn, t, "")
		switch typ {
		case "ingested":
			ingestedSeen = ingestedSeen || payload["quizId"] == "q1"
		case "progress":
			overall, _ := payload["overallStats"].(map[string]any)
			progressSeen = progressSeen || overall["totalQuizzes"] == float64(1)
		}
	}
	if !ingestedSeen || !progressSeen {
		t.Fatalf("expected ingested and progress, got ingested=%v progress=%v", ingestedSeen, progressSeen)
	}
}

func TestWebSocketRejectsBadMessages(t *testing.T) {
	server := newTestServer(t, nil)

	u := "ws" + server.URL[len("http"):] + "/ws?userId=u1"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readNext(conn, t, "progress")

	if err := conn.WriteJSON(map[string]any{"type": "answer"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(conn, t, "error")

	invalid := map[string]any{
		"type":    "ingest",
		"payload": map[string]any{"quizId": "q1", "totalQuestions": 1, "correct": 3, "occurredAt": fixedNow.Format(time.RFC3339)},
	}
	if err := conn.WriteJSON(invalid); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(conn, t, "error")
}

func TestWebSocketRequiresUser(t *testing.T) {
	server := newTestServer(t, nil)
	resp, err := http.Get(server.URL + "/ws")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s", expect, msg.Type)
	}
	return msg.Type, msg.Payload
}

// readUntil skips progress pushes until a message of the given type arrives.
func readUntil(conn *websocket.Conn, t *testing.T, expect string) map[string]any {
	t.Helper()
	for i := 0; i < 4; i++ {
		typ, payload := readNext(conn, t, "")
		if typ == expect {
			return payload
		}
		if typ != "progress" {
			t.Fatalf("expected type %s, got %s", expect, typ)
		}
	}
	t.Fatalf("no %s message received", expect)
	return nil
}

func TestEnqueueStopsWhenWriterExits(t *testing.T) {
	send := make(chan outboundMessage[any], 1)
	done := make(chan struct{})

	if !enqueue(send, done, outboundMessage[any]{Type: "progress"}) {
		t.Fatalf("expected buffered send to succeed")
	}

	close(done)
	result := make(chan bool, 1)
	go func() { result <- enqueue(send, done, outboundMessage[any]{Type: "error"}) }()
	select {
	case ok := <-result:
		if ok {
			t.Fatalf("expected enqueue to report the writer gone")
		}
	case <-time.After(time.Second):
		t.Fatalf("enqueue blocked on a full queue after the writer exited")
	}
}
