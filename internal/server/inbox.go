package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"jobpilot/internal/errors"
	"jobpilot/internal/store"
)

// Message routes.
const (
	RouteLocal     = "local"
	RouteForwarded = "forwarded"
	RouteInbox     = "inbox"
)

// MeshMessage is a message exchanged between services. Records live in
// messages.json; inbox copies are keyed "inbox:<message_id>" so a service
// forwarding to itself keeps both sides.
type MeshMessage struct {
	ID        string         `json:"message_id"`
	Sender    string         `json:"sender"`
	Receiver  string         `json:"receiver"`
	Content   string         `json:"content"`
	Context   map[string]any `json:"context,omitempty"`
	Route     string         `json:"route"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// InboxKey is the messages.json key of a received message.
func InboxKey(id string) string { return "inbox:" + id }

// WithInbox enables POST /message/inbox, storing received messages in st.
func (s *Server) WithInbox(st *store.Store) *Server {
	if st != nil {
		s.inbox = store.NewCollection[MeshMessage](st, store.MessagesFile)
	}
	return s
}

func (s *Server) inboxHandler(w http.ResponseWriter, r *http.Request) {
	var msg MeshMessage
	if err := ParseJSONRequest(r, &msg); err != nil {
		Fail(w, r, err)
		return
	}
	if strings.TrimSpace(msg.Sender) == "" {
		Fail(w, r, errors.NewValidationError(errors.ErrCodeMissingField, "sender is required", nil))
		return
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Receiver == "" {
		msg.Receiver = s.Service.Name()
	}
	msg.Route = RouteInbox
	msg.Error = ""
	msg.CreatedAt = time.Now().UTC()
	if err := s.inbox.Put(InboxKey(msg.ID), msg); err != nil {
		Fail(w, r, err)
		return
	}
	s.Logger.Info("Message received", "message_id", msg.ID, "sender", msg.Sender, "content_length", len(msg.Content))
	WriteJSON(w, http.StatusAccepted, map[string]any{
		"received":   true,
		"message_id": msg.ID,
		"receiver":   msg.Receiver,
	})
}
