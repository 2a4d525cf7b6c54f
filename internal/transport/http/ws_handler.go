package http

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"quiz-progress-service/internal/app"
	"quiz-progress-service/internal/domain"
	"quiz-progress-service/internal/platform/logger"
)

type WSHandler struct {
	service  *app.ProgressService
	log      *logger.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.ProgressService, log *logger.Logger) *WSHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &WSHandler{
		service: service,
		log:     log.With("component", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type ingestResult struct {
	QuizID   string              `json:"quizId"`
	Progress domain.ProgressView `json:"progress"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func errorMessage(err error) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
}

// ServeWS upgrades the request and streams the user's progress. Clients may
// also push quiz completion events over the same connection.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	log := h.log.With("conn_id", uuid.NewString(), "user_id", userID)
	log.Debug("ws connected")
	defer log.Debug("ws disconnected")

	// subscribe before the snapshot so no update between the two is lost
	updates, cancel := h.service.Subscribe(userID)
	defer cancel()

	snapshot, err := h.service.Overview(r.Context(), userID)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Warn("ws write error", "error", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "progress", Payload: update}:
				case <-writerDone:
					return
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	// deliver reports false once the writer has stopped
	deliver := func(msg outboundMessage[any]) bool {
		return enqueue(send, writerDone, msg)
	}

	alive := deliver(outboundMessage[any]{Type: "progress", Payload: snapshot})
	for alive {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "ingest":
			var event domain.QuizCompletionEvent
			if err := json.Unmarshal(inbound.Payload, &event); err != nil {
				alive = deliver(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid ingest payload"}})
				continue
			}
			view, err := h.service.Ingest(r.Context(), userID, event)
			if err != nil {
				alive = deliver(errorMessage(err))
				continue
			}
			alive = deliver(outboundMessage[any]{Type: "ingested", Payload: ingestResult{QuizID: event.QuizID, Progress: view}})
		default:
			alive = deliver(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}})
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// enqueue hands msg to the writer, giving up once done is closed.
func enqueue(send chan<- outboundMessage[any], done <-chan struct{}, msg outboundMessage[any]) bool {
	select {
	case send <- msg:
		return true
	case <-done:
		return false
	}
}
