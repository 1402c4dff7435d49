package email

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"jobpilot/internal/errors"
	"jobpilot/internal/notify"
	"jobpilot/internal/server"
)

type initiateRequest struct {
	CampaignName string      `json:"campaign_name"`
	CampaignType string      `json:"campaign_type"`
	Channels     []string    `json:"channels"`
	Recipients   []Recipient `json:"recipients"`
}

func (s *Service) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := server.ParseJSONRequest(r, &req); err != nil {
		server.Fail(w, r, err)
		return
	}
	if len(req.Channels) == 0 {
		req.Channels = []string{notify.ChannelSendGrid}
	}
	var channels, ignored []string
	for _, ch := range req.Channels {
		if _, ok := s.notifier.Channel(ch); ok {
			channels = append(channels, ch)
		} else {
			ignored = append(ignored, ch)
		}
	}
	if len(channels) == 0 {
		server.Fail(w, r, errors.NewValidationError(errors.ErrCodeInvalidRequest, "no known channel requested", nil).
			WithContext("channels", req.Channels))
		return
	}

	seen := map[string]bool{}
	for i := range req.Recipients {
		rc := &req.Recipients[i]
		rc.Email, rc.Phone = strings.TrimSpace(rc.Email), strings.TrimSpace(rc.Phone)
		if rc.ID == "" {
			rc.ID = fmt.Sprintf("r%d", i+1)
		}
		if seen[rc.ID] {
			server.Fail(w, r, errors.NewValidationError(errors.ErrCodeInvalidRequest, "duplicate recipient id "+rc.ID, nil))
			return
		}
		seen[rc.ID] = true
		if rc.Email == "" && rc.Phone == "" {
			server.Fail(w, r, errors.NewValidationError(errors.ErrCodeMissingField, "recipient "+rc.ID+" needs an email or phone", nil))
			return
		}
	}

	c := Campaign{
		ID:         "campaign_" + uuid.NewString(),
		Name:       strings.TrimSpace(req.CampaignName),
		Type:       strings.TrimSpace(req.CampaignType),
		Channels:   channels,
		Recipients: req.Recipients,
		Status:     StatusInitiated,
		CreatedAt:  s.now().UTC(),
	}
	if c.Name == "" {
		c.Name = "Application campaign"
	}
	if c.Type == "" {
		c.Type = "job_application"
	}
	if err := s.campaigns.Put(c.ID, c); err != nil {
		server.Fail(w, r, err)
		return
	}
	s.event(r.Context(), "campaign_initiated", 1)
	s.logger.Info("Campaign initiated", "campaign_id", c.ID, "recipients", len(c.Recipients), "channels", channels)

	resp := map[string]any{
		"application_campaign_id": c.ID,
		"status":                  c.Status,
		"campaign_name":           c.Name,
		"audience_size":           len(c.Recipients),
		"channels_activated":      len(channels),
		"message":                 fmt.Sprintf("Campaign initiated for %d recipients", len(c.Recipients)),
	}
	if len(ignored) > 0 {
		resp["channels_ignored"] = ignored
	}
	server.WriteJSON(w, http.StatusCreated, resp)
}

type contentRequest struct {
	TemplateType   string `json:"template_type"`
	TargetAudience string `json:"target_audience"`
	Theme          string `json:"theme"`
}

func (s *Service) handleContent(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if err := server.ParseJSONRequest(r, &req); err != nil {
		server.Fail(w, r, err)
		return
	}
	if req.TemplateType == "" {
		req.TemplateType = "application"
	}
	content, ok := Generate(req.TemplateType, req.Theme)
	if !ok {
		server.Fail(w, r, errors.NewValidationError(errors.ErrCodeInvalidRequest, "unknown template_type "+req.TemplateType, nil).
			WithContext("template_types", TemplateTypes()))
		return
	}
	content.TargetAudience = req.TargetAudience
	content.GeneratedAt = s.now().UTC()

	c, err := s.mutate(r.PathValue("id"), func(c *Campaign) error {
		c.Content = append(c.Content, content)
		if c.Status == StatusInitiated {
			c.Status = StatusContentReady
		}
		return nil
	})
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"campaign_id":           c.ID,
		"content_generated":     true,
		"template_type":         content.TemplateType,
		"subject":               content.Subject,
		"word_count":            wordCount(content),
		"personalization_ready": true,
	})
}

type sendRequest struct {
	Channels []string `json:"channels,omitempty"`
}

func (s *Service) message(c Campaign, content Content, rc Recipient, channel string) (notify.Message, bool) {
	info, _ := s.notifier.Channel(channel)
	msg := notify.Message{
		Subject:    Personalize(content.Subject, rc),
		Body:       Personalize(content.Body, rc),
		CampaignID: c.ID,
	}
	if info.Type == "email" {
		msg.To = rc.Email
	} else {
		msg.To = rc.Phone
		msg.Body = Compact(msg.Body)
	}
	return msg, msg.To != ""
}

func (s *Service) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if r.ContentLength > 0 {
		if err := server.ParseJSONRequest(r, &req); err != nil {
			server.Fail(w, r, err)
			return
		}
	}
	id := r.PathValue("id")
	c, err := s.mutate(id, func(c *Campaign) error {
		if len(c.Content) == 0 {
			return errors.NewValidationError(errors.ErrCodeInvalidRequest, "No content generated for campaign", nil)
		}
		if len(c.Recipients) == 0 {
			return errors.NewValidationError(errors.ErrCodeInvalidRequest, "Campaign has no recipients", nil)
		}
		if c.Status == StatusSending || c.Status == StatusCompleted {
			return errors.NewConflictError(errors.ErrCodeAlreadyExists, "Campaign already sent", nil).WithContext("status", c.Status)
		}
		now := s.now().UTC()
		c.Status = StatusSending
		c.SentAt = &now
		return nil
	})
	if err != nil {
		server.Fail(w, r, err)
		return
	}

	channels := c.Channels
	if len(req.Channels) > 0 {
		channels = nil
		for _, ch := range req.Channels {
			for _, own := range c.Channels {
				if ch == own {
					channels = append(channels, ch)
				}
			}
		}
	}
	content, _ := c.latestContent()

	records := make([]SendRecord, 0, len(c.Recipients)*len(channels))
	for _, rc := range c.Recipients {
		for _, ch := range channels {
			records = append(records, SendRecord{RecipientID: rc.ID, Channel: ch})
		}
	}
	g := new(errgroup.Group)
	g.SetLimit(s.parallel)
	for i := range records {
		rec := &records[i]
		rc, _ := c.recipient(rec.RecipientID)
		g.Go(func() error {
			msg, ok := s.message(c, content, rc, rec.Channel)
			rec.SentAt = s.now().UTC()
			if !ok {
				rec.Status = "skipped"
				rec.Error = "no address for channel"
				return nil
			}
			receipt, err := s.notifier.Send(r.Context(), rec.Channel, msg)
			if err != nil {
				rec.Status = "failed"
				rec.Error = err.Error()
				return nil
			}
			rec.Status = receipt.Status
			rec.ReceiptID = receipt.ID
			rec.ProviderID = receipt.ProviderID
			return nil
		})
	}
	_ = g.Wait()

	c, err = s.mutate(id, func(c *Campaign) error {
		c.Sends = append(c.Sends, records...)
		now := s.now().UTC()
		c.CompletedAt = &now
		c.Status = StatusFailed
		for _, rec := range records {
			if rec.Status == notify.StatusSent || rec.Status == notify.StatusDryRun {
				c.Status = StatusCompleted
				break
			}
		}
		return nil
	})
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	s.event(r.Context(), "message_sent", int64(c.Metrics.MessagesSent+c.Metrics.DryRuns))
	s.logger.Info("Campaign sent",
		"campaign_id", c.ID,
		"sent", c.Metrics.MessagesSent,
		"dry_runs", c.Metrics.DryRuns,
		"failed", c.Metrics.Failed,
		"skipped", c.Metrics.Skipped)

	server.WriteJSON(w, http.StatusOK, map[string]any{
		"campaign_id":      c.ID,
		"status":           "sending_initiated",
		"campaign_status":  c.Status,
		"audience_size":    len(c.Recipients),
		"channels_engaged": len(channels),
		"messages_sent":    c.Metrics.MessagesSent,
		"dry_runs":         c.Metrics.DryRuns,
		"failed":           c.Metrics.Failed,
		"skipped":          c.Metrics.Skipped,
	})
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	c, err := s.load(r)
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, c)
}

type outcomeRequest struct {
	Recipient string    `json:"recipient"`
	Event     string    `json:"event"`
	At        time.Time `json:"at"`
}

func (s *Service) handleOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := server.ParseJSONRequest(r, &req); err != nil {
		server.Fail(w, r, err)
		return
	}
	event := strings.ToLower(strings.TrimSpace(req.Event))
	if !validEvents[event] {
		server.Fail(w, r, errors.NewValidationError(errors.ErrCodeInvalidRequest, "event must be delivered, opened, replied or bounced", nil))
		return
	}
	c, err := s.mutate(r.PathValue("id"), func(c *Campaign) error {
		if c.SentAt == nil {
			return errors.NewConflictError(errors.ErrCodeInvalidOutcomeUpdate, "Campaign has not been sent", nil)
		}
		rc, ok := c.recipient(req.Recipient)
		if !ok {
			return errors.NewNotFoundError(errors.ErrCodeNotFound, "Recipient not in campaign", nil).WithContext("recipient", req.Recipient)
		}
		at := req.At
		if at.IsZero() {
			at = s.now().UTC()
		}
		if at.Before(*c.SentAt) {
			return errors.NewConflictError(errors.ErrCodeInvalidOutcomeUpdate, "event precedes the send", nil)
		}
		c.Events = append(c.Events, OutcomeEvent{RecipientID: rc.ID, Event: event, At: at})
		return nil
	})
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	s.event(r.Context(), "outcome_"+event, 1)
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"campaign_id":         c.ID,
		"recorded":            true,
		"performance_metrics": c.Metrics,
	})
}

func (s *Service) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deleted, err := s.campaigns.Delete(id)
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	if !deleted {
		server.Fail(w, r, errors.NewNotFoundError(errors.ErrCodeNotFound, "Campaign not found", nil).WithContext("campaign_id", id))
		return
	}
	s.logger.Info("Campaign terminated", "campaign_id", id)
	server.WriteJSON(w, http.StatusOK, map[string]any{"terminated": true, "campaign_id": id})
}

func (s *Service) handleMetrics(w http.ResponseWriter, r *http.Request) {
	all, err := s.campaigns.List()
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	var sent, dry, active, completed int
	var openSum, replySum float64
	for _, c := range all {
		sent += c.Metrics.MessagesSent
		dry += c.Metrics.DryRuns
		openSum += c.Metrics.OpenRate
		replySum += c.Metrics.ReplyRate
		switch c.Status {
		case StatusSending:
			active++
		case StatusCompleted:
			completed++
		}
	}
	n := float64(max(len(all), 1))
	available := 0
	for _, ch := range s.notifier.Channels() {
		if ch.Available {
			available++
		}
	}
	resp := map[string]any{
		"total_campaigns":                  len(all),
		"total_messages_sent":              sent,
		"total_dry_runs":                   dry,
		"active_campaigns":                 active,
		"completed_campaigns":              completed,
		"average_open_rate":                round3(openSum / n),
		"average_reply_rate":               round3(replySum / n),
		"communication_channels_available": available,
	}
	if s.counters != nil {
		resp["requests"] = s.counters.Snapshot()
	}
	server.WriteJSON(w, http.StatusOK, resp)
}

func (s *Service) handlePersonalizeCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID := r.URL.Query().Get("campaign_id")
	if campaignID == "" {
		server.Fail(w, r, errors.NewValidationError(errors.ErrCodeMissingField, "campaign_id is required", nil))
		return
	}
	c, ok, err := s.campaigns.Get(campaignID)
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	if !ok {
		server.Fail(w, r, errors.NewNotFoundError(errors.ErrCodeNotFound, "Campaign not found", nil).WithContext("campaign_id", campaignID))
		return
	}
	key := r.PathValue("recipient")
	rc, ok := c.recipient(key)
	if !ok {
		server.Fail(w, r, errors.NewNotFoundError(errors.ErrCodeNotFound, "Recipient not in campaign", nil).WithContext("recipient", key))
		return
	}
	content, ok := c.latestContent()
	if !ok {
		server.Fail(w, r, errors.NewValidationError(errors.ErrCodeInvalidRequest, "No content generated for campaign", nil))
		return
	}
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		channel = c.Channels[0]
	}
	if _, ok := s.notifier.Channel(channel); !ok {
		server.Fail(w, r, errors.NewValidationError(errors.ErrCodeInvalidRequest, "unknown channel "+channel, nil))
		return
	}
	msg, addressed := s.message(c, content, rc, channel)
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"campaign_id":             c.ID,
		"recipient_id":            rc.ID,
		"channel_optimized":       channel,
		"addressable":             addressed,
		"personalization_applied": true,
		"subject":                 msg.Subject,
		"personalized_content":    msg.Body,
	})
}

type personalizeRequest struct {
	BaseContent string    `json:"base_content"`
	Profile     Recipient `json:"profile"`
	Channel     string    `json:"channel"`
}

func (s *Service) handlePersonalizeContent(w http.ResponseWriter, r *http.Request) {
	var req personalizeRequest
	if err := server.ParseJSONRequest(r, &req); err != nil {
		server.Fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.BaseContent) == "" {
		server.Fail(w, r, errors.NewValidationError(errors.ErrCodeMissingField, "base_content is required", nil))
		return
	}
	if req.Channel == "" {
		req.Channel = notify.ChannelSendGrid
	}
	info, ok := s.notifier.Channel(req.Channel)
	if !ok {
		server.Fail(w, r, errors.NewValidationError(errors.ErrCodeInvalidRequest, "unknown channel "+req.Channel, nil))
		return
	}
	out := Personalize(req.BaseContent, req.Profile)
	if info.Type != "email" {
		out = Compact(out)
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"recipient_id":            r.PathValue("recipient"),
		"channel_optimized":       req.Channel,
		"personalization_applied": true,
		"personalized_content":    out,
	})
}

func (s *Service) handleChannels(w http.ResponseWriter, r *http.Request) {
	infos := s.notifier.Channels()
	available := []string{}
	for _, ch := range infos {
		if ch.Available {
			available = append(available, ch.Name)
		}
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"channels":           infos,
		"available_channels": available,
		"dry_run_channels":   len(infos) - len(available),
	})
}
