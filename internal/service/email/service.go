// Package email implements the email-communications service: application
// campaigns, generated content, delivery through notify and outcome
// tracking.
package email

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"jobpilot/internal/errors"
	"jobpilot/internal/notify"
	"jobpilot/internal/observability"
	"jobpilot/internal/resilience"
	"jobpilot/internal/server"
	"jobpilot/internal/store"
)

const Name = "email"

// Campaign states.
const (
	StatusInitiated    = "initiated"
	StatusContentReady = "content_ready"
	StatusSending      = "sending"
	StatusCompleted    = "completed"
	StatusFailed       = "failed"
)

// Outcome events a recipient can produce.
const (
	EventDelivered = "delivered"
	EventOpened    = "opened"
	EventReplied   = "replied"
	EventBounced   = "bounced"
)

var validEvents = map[string]bool{EventDelivered: true, EventOpened: true, EventReplied: true, EventBounced: true}

// Recipient is a campaign addressee. Email serves the email channels and
// Phone the SMS and WhatsApp channels.
type Recipient struct {
	ID      string `json:"id"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Name    string `json:"name,omitempty"`
	Company string `json:"company,omitempty"`
	Role    string `json:"role,omitempty"`
}

// Content is one generated message skeleton.
type Content struct {
	TemplateType   string    `json:"template_type"`
	TargetAudience string    `json:"target_audience,omitempty"`
	Theme          string    `json:"theme,omitempty"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// SendRecord is one delivery attempt to one recipient over one channel.
type SendRecord struct {
	RecipientID string    `json:"recipient_id"`
	Channel     string    `json:"channel"`
	Status      string    `json:"status"`
	ReceiptID   string    `json:"receipt_id,omitempty"`
	ProviderID  string    `json:"provider_id,omitempty"`
	Error       string    `json:"error,omitempty"`
	SentAt      time.Time `json:"sent_at"`
}

// OutcomeEvent is a delivery signal reported back for a recipient.
type OutcomeEvent struct {
	RecipientID string    `json:"recipient_id"`
	Event       string    `json:"event"`
	At          time.Time `json:"at"`
}

// Metrics are derived from sends and events. Rates are fractions of the
// messages handed to a channel, counting each recipient once per event.
type Metrics struct {
	MessagesSent int     `json:"messages_sent"`
	DryRuns      int     `json:"dry_runs"`
	Failed       int     `json:"failed"`
	Skipped      int     `json:"skipped"`
	Delivered    int     `json:"delivered"`
	Opened       int     `json:"opened"`
	Replied      int     `json:"replied"`
	Bounced      int     `json:"bounced"`
	OpenRate     float64 `json:"open_rate"`
	ReplyRate    float64 `json:"reply_rate"`
	BounceRate   float64 `json:"bounce_rate"`
}

// Campaign is a campaigns.json record.
type Campaign struct {
	ID          string         `json:"campaign_id"`
	Name        string         `json:"campaign_name"`
	Type        string         `json:"campaign_type"`
	Channels    []string       `json:"target_channels"`
	Recipients  []Recipient    `json:"recipients"`
	Status      string         `json:"status"`
	Content     []Content      `json:"generated_content,omitempty"`
	Sends       []SendRecord   `json:"sends,omitempty"`
	Events      []OutcomeEvent `json:"events,omitempty"`
	Metrics     Metrics        `json:"performance_metrics"`
	CreatedAt   time.Time      `json:"created_at"`
	SentAt      *time.Time     `json:"send_start_time,omitempty"`
	CompletedAt *time.Time     `json:"send_completion_time,omitempty"`
}

func (c *Campaign) latestContent() (Content, bool) {
	if len(c.Content) == 0 {
		return Content{}, false
	}
	return c.Content[len(c.Content)-1], true
}

func (c *Campaign) recipient(key string) (Recipient, bool) {
	for _, r := range c.Recipients {
		if r.ID == key || (r.Email != "" && r.Email == key) || (r.Phone != "" && r.Phone == key) {
			return r, true
		}
	}
	return Recipient{}, false
}

func round3(v float64) float64 { return float64(int64(v*1000+0.5)) / 1000 }

// recompute derives Metrics from the send records and events.
func (c *Campaign) recompute() {
	m := Metrics{}
	for _, s := range c.Sends {
		switch s.Status {
		case notify.StatusSent:
			m.MessagesSent++
		case notify.StatusDryRun:
			m.DryRuns++
		case "failed":
			m.Failed++
		case "skipped":
			m.Skipped++
		}
	}
	seen := map[string]bool{}
	for _, e := range c.Events {
		key := e.RecipientID + "|" + e.Event
		if seen[key] {
			continue
		}
		seen[key] = true
		switch e.Event {
		case EventDelivered:
			m.Delivered++
		case EventOpened:
			m.Opened++
		case EventReplied:
			m.Replied++
		case EventBounced:
			m.Bounced++
		}
	}
	if handed := m.MessagesSent + m.DryRuns; handed > 0 {
		m.OpenRate = round3(float64(m.Opened) / float64(handed))
		m.ReplyRate = round3(float64(m.Replied) / float64(handed))
		m.BounceRate = round3(float64(m.Bounced) / float64(handed))
	}
	c.Metrics = m
}

// Service serves the campaign endpoints.
type Service struct {
	campaigns *store.Collection[Campaign]
	notifier  *notify.Notifier
	counters  *store.Counters
	om        *observability.ObservabilityManager
	logger    *errors.Logger
	now       func() time.Time
	parallel  int
}

// New opens campaigns.json of st. Delivery goes through notifier.
func New(st *store.Store, notifier *notify.Notifier, counters *store.Counters, om *observability.ObservabilityManager, logger *errors.Logger) (*Service, error) {
	if logger == nil {
		logger = errors.NewNop()
	}
	s := &Service{
		campaigns: store.NewCollection[Campaign](st, store.CampaignsFile),
		notifier:  notifier,
		counters:  counters,
		om:        om,
		logger:    logger.With("component", "email"),
		now:       time.Now,
		parallel:  4,
	}
	if err := s.campaigns.Verify(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) Name() string { return Name }

func (s *Service) Routes() []server.Route {
	return []server.Route{
		{Pattern: "POST /campaign/initiate", Handler: s.handleInitiate, Summary: "Create a campaign"},
		{Pattern: "POST /campaign/{id}/content", Handler: s.handleContent, Summary: "Generate campaign content"},
		{Pattern: "POST /campaign/{id}/send", Handler: s.handleSend, Summary: "Deliver the campaign"},
		{Pattern: "GET /campaign/{id}/status", Handler: s.handleStatus, Summary: "Campaign record and metrics"},
		{Pattern: "POST /campaign/{id}/outcome", Handler: s.handleOutcome, Summary: "Record a recipient event"},
		{Pattern: "DELETE /campaign/{id}", Handler: s.handleDelete, Summary: "Terminate a campaign"},
		{Pattern: "GET /campaigns/metrics", Handler: s.handleMetrics, Summary: "Totals across campaigns"},
		{Pattern: "GET /communication/personalize/{recipient}", Handler: s.handlePersonalizeCampaign, Summary: "Campaign content for one recipient"},
		{Pattern: "POST /communication/personalize/{recipient}", Handler: s.handlePersonalizeContent, Summary: "Personalize arbitrary content"},
		{Pattern: "GET /channels/available", Handler: s.handleChannels, Summary: "Delivery channels"},
	}
}

func (s *Service) Info() map[string]any {
	return map[string]any{
		"features":       []string{"campaigns", "content_templates", "personalization", "outcome_tracking"},
		"channels":       len(s.notifier.Channels()),
		"template_types": TemplateTypes(),
	}
}

// Breakers implements server.BreakerSource.
func (s *Service) Breakers() map[string]resilience.Status { return s.notifier.Breakers() }

func (s *Service) Health(ctx context.Context) map[string]any {
	available := 0
	for _, ch := range s.notifier.Channels() {
		if ch.Available {
			available++
		}
	}
	resp := map[string]any{
		"features":           map[string]bool{"campaigns": true, "live_delivery": available > 0},
		"channels_available": available,
	}
	if err := s.campaigns.Verify(); err != nil {
		resp["status"] = "degraded"
	}
	return resp
}

func (s *Service) event(ctx context.Context, name string, n int64) {
	s.om.GetMetrics().RecordPipelineMetric(ctx, "service_event", n, s.om,
		attribute.String("service", Name), attribute.String("event", name))
}

func (s *Service) load(r *http.Request) (Campaign, error) {
	id := r.PathValue("id")
	c, ok, err := s.campaigns.Get(id)
	if err != nil {
		return Campaign{}, err
	}
	if !ok {
		return Campaign{}, errors.NewNotFoundError(errors.ErrCodeNotFound, "Campaign not found", nil).WithContext("campaign_id", id)
	}
	return c, nil
}

// mutate applies fn to the stored campaign id under the file lock.
func (s *Service) mutate(id string, fn func(c *Campaign) error) (Campaign, error) {
	var out Campaign
	err := s.campaigns.Update(func(all map[string]Campaign) error {
		c, ok := all[id]
		if !ok {
			return errors.NewNotFoundError(errors.ErrCodeNotFound, "Campaign not found", nil).WithContext("campaign_id", id)
		}
		if err := fn(&c); err != nil {
			return err
		}
		c.recompute()
		all[id] = c
		out = c
		return nil
	})
	return out, err
}
