package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"jobpilot/internal/errors"
	"jobpilot/internal/server"
)

const defaultSender = "api-client"

type messageRequest struct {
	Sender   string         `json:"sender_id"`
	Receiver string         `json:"receiver_id"`
	Content  string         `json:"content"`
	Context  map[string]any `json:"context"`

	// accepted from older clients
	LegacyContext map[string]any `json:"biological_context"`
}

// route records msg and forwards it when the receiver is a peer with a URL.
// A failed forward keeps the message locally with the error attached.
func (s *Service) route(ctx context.Context, req messageRequest) (server.MeshMessage, error) {
	if strings.TrimSpace(req.Content) == "" {
		return server.MeshMessage{}, errors.NewValidationError(errors.ErrCodeMissingField, "content is required", nil)
	}
	msg := server.MeshMessage{
		ID:        uuid.NewString(),
		Sender:    strings.TrimSpace(req.Sender),
		Receiver:  strings.TrimSpace(req.Receiver),
		Content:   req.Content,
		Context:   req.Context,
		Route:     server.RouteLocal,
		CreatedAt: s.now().UTC(),
	}
	if msg.Sender == "" {
		msg.Sender = defaultSender
	}
	if msg.Receiver == "" {
		msg.Receiver = Name
	}
	if msg.Context == nil {
		msg.Context = req.LegacyContext
	}

	if ep, ok := s.peers.Endpoint(msg.Receiver); ok && ep.URL != "" {
		err := s.om.GetMetrics().TrackExternalCall(ctx, "peer", msg.Receiver, func(ctx context.Context) error {
			return s.forward(ctx, ep.URL, msg)
		}, s.om)
		if err != nil {
			if ctx.Err() != nil {
				return server.MeshMessage{}, errors.NewTimeoutError(errors.ErrCodeDeadlineExceeded, "message forwarding timed out", ctx.Err())
			}
			s.logger.Warn("Message kept locally", "message_id", msg.ID, "receiver", msg.Receiver, "error", err.Error())
			msg.Error = err.Error()
		} else {
			msg.Route = server.RouteForwarded
		}
	}

	if err := s.messages.Put(msg.ID, msg); err != nil {
		return server.MeshMessage{}, err
	}
	s.event(ctx, "message_"+msg.Route, 1)
	return msg, nil
}

func (s *Service) forward(ctx context.Context, baseURL string, msg server.MeshMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/message/inbox", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.peerKey != "" {
		req.Header.Set("X-API-Key", s.peerKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("peer answered %d", resp.StatusCode)
	}
	return nil
}

func (s *Service) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := server.ParseJSONRequest(r, &req); err != nil {
		server.Fail(w, r, err)
		return
	}
	msg, err := s.route(r.Context(), req)
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"message_sent": true,
		"message":      msg,
		"forwarded":    msg.Route == server.RouteForwarded,
	})
}

func (s *Service) handleLegacyMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := server.ParseJSONRequest(r, &req); err != nil {
		server.Fail(w, r, err)
		return
	}
	msg, err := s.route(r.Context(), req)
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	routing := map[string]any{
		"message_id":                   msg.ID,
		"sender":                       msg.Sender,
		"receiver":                     msg.Receiver,
		"content_length":               len(msg.Content),
		"biological_context_preserved": true,
		"transmission_success":         msg.Error == "",
	}
	if msg.Route == server.RouteForwarded {
		routing["service_mesh_route"] = map[string]string{"sender": msg.Sender, "receiver": msg.Receiver}
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"message_sent":                  true,
		"communication_protocol_active": true,
		"biological_message_routing":    routing,
	})
}
