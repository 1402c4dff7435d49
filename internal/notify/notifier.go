// Package notify delivers campaign messages over email, SMS and WhatsApp.
//
// Every channel the platform knows is always listed. A channel whose
// credentials are missing is unavailable and records a dry-run send in the
// log instead of calling the provider.
package notify

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"jobpilot/internal/config"
	"jobpilot/internal/errors"
	"jobpilot/internal/observability"
	"jobpilot/internal/resilience"
)

// Channel names.
const (
	ChannelSendGrid = "email_sendgrid"
	ChannelSMTP     = "email_smtp"
	ChannelSMS      = "sms_twilio"
	ChannelWhatsApp = "whatsapp_twilio"
)

// Delivery statuses.
const (
	StatusSent   = "sent"
	StatusDryRun = "dry_run"
)

// Address is a sender or recipient mailbox.
type Address struct {
	Email string
	Name  string
}

// Message is one outbound message. To is an email address or a phone
// number depending on the channel.
type Message struct {
	To         string `json:"to"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	CampaignID string `json:"campaign_id,omitempty"`
}

// Sender talks to one provider and returns the provider message id.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) (string, error)
}

// ChannelInfo describes a channel for listings.
type ChannelInfo struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Capacity    int     `json:"capacity"`
	CostPerUnit float64 `json:"cost_per_unit"`
	Available   bool    `json:"availability"`
}

// Receipt records one delivery attempt that succeeded.
type Receipt struct {
	ID         string    `json:"id"`
	Channel    string    `json:"channel"`
	Recipient  string    `json:"recipient"`
	ProviderID string    `json:"provider_id,omitempty"`
	Status     string    `json:"status"`
	SentAt     time.Time `json:"sent_at"`
}

var catalog = map[string]ChannelInfo{
	ChannelSendGrid: {Name: ChannelSendGrid, Type: "email", Capacity: 10000, CostPerUnit: 0.0002},
	ChannelSMTP:     {Name: ChannelSMTP, Type: "email", Capacity: 5000, CostPerUnit: 0.0001},
	ChannelSMS:      {Name: ChannelSMS, Type: "sms", Capacity: 1000, CostPerUnit: 0.0075},
	ChannelWhatsApp: {Name: ChannelWhatsApp, Type: "whatsapp", Capacity: 1000, CostPerUnit: 0.0050},
}

type channel struct {
	info    ChannelInfo
	sender  Sender // nil for a dry-run channel
	breaker *resilience.Breaker[string]
}

// Notifier routes messages to channels.
type Notifier struct {
	channels map[string]*channel
	policy   resilience.Policy
	timeout  time.Duration
	om       *observability.ObservabilityManager
	logger   *errors.Logger
	now      func() time.Time
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithObservability records provider calls.
func WithObservability(om *observability.ObservabilityManager) Option {
	return func(n *Notifier) { n.om = om }
}

// WithSender replaces the provider client of a channel and marks it available.
func WithSender(s Sender) Option {
	return func(n *Notifier) {
		if ch, ok := n.channels[s.Name()]; ok {
			ch.sender = s
			ch.info.Available = true
		}
	}
}

// New builds every channel from cfg. Breakers follow cfg.CircuitBreaker.
func New(cfg *config.Config, logger *errors.Logger, opts ...Option) *Notifier {
	if logger == nil {
		logger = errors.NewNop()
	}
	nc := cfg.Notify
	timeout := nc.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	from := Address{Email: nc.FromEmail, Name: nc.FromName}
	p := cfg.Providers

	n := &Notifier{
		channels: make(map[string]*channel, len(catalog)),
		policy:   resilience.Policy{MaxRetries: 2},
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
	}
	senders := map[string]Sender{}
	if p.SendGridAPIKey != "" {
		senders[ChannelSendGrid] = NewSendGridChannel(p.SendGridAPIKey, nc.SendGridEndpoint, from, timeout)
	}
	if nc.SMTPAddr != "" {
		senders[ChannelSMTP] = NewSMTPChannel(nc.SMTPAddr, from)
	}
	if p.TwilioAccountSID != "" && p.TwilioAuthToken != "" && p.TwilioFromNumber != "" {
		senders[ChannelSMS] = NewTwilioChannel(p.TwilioAccountSID, p.TwilioAuthToken, p.TwilioFromNumber, nc.TwilioEndpoint, false, timeout)
		senders[ChannelWhatsApp] = NewTwilioChannel(p.TwilioAccountSID, p.TwilioAuthToken, p.TwilioFromNumber, nc.TwilioEndpoint, true, timeout)
	}
	for name, info := range catalog {
		ch := &channel{info: info, breaker: resilience.NewBreaker[string]("notifier-"+name, cfg.CircuitBreaker, logger)}
		if s, ok := senders[name]; ok {
			ch.sender = s
			ch.info.Available = true
		}
		n.channels[name] = ch
	}
	for _, opt := range opts {
		opt(n)
	}
	for _, name := range n.names() {
		if !n.channels[name].info.Available {
			logger.Debug("Channel not configured, sends are dry runs", "channel", name)
		}
	}
	return n
}

func (n *Notifier) names() []string {
	names := make([]string, 0, len(n.channels))
	for name := range n.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Breakers returns the circuit breaker of every channel.
func (n *Notifier) Breakers() map[string]resilience.Status {
	out := make(map[string]resilience.Status, len(n.channels))
	for name, ch := range n.channels {
		out["notifier-"+name] = ch.breaker
	}
	return out
}

// Channels lists every channel sorted by name.
func (n *Notifier) Channels() []ChannelInfo {
	out := make([]ChannelInfo, 0, len(n.channels))
	for _, name := range n.names() {
		out = append(out, n.channels[name].info)
	}
	return out
}

// Channel returns the listing of one channel.
func (n *Notifier) Channel(name string) (ChannelInfo, bool) {
	ch, ok := n.channels[name]
	if !ok {
		return ChannelInfo{}, false
	}
	return ch.info, true
}

// Send delivers msg over the named channel. Unavailable channels return a
// dry-run receipt.
func (n *Notifier) Send(ctx context.Context, channelName string, msg Message) (Receipt, error) {
	ch, ok := n.channels[channelName]
	if !ok {
		return Receipt{}, errors.NewValidationError(errors.ErrCodeInvalidRequest, "unknown channel "+channelName, nil)
	}
	msg.To = strings.TrimSpace(msg.To)
	if msg.To == "" {
		return Receipt{}, errors.NewValidationError(errors.ErrCodeMissingField, "recipient is required", nil)
	}
	rec := Receipt{ID: uuid.NewString(), Channel: channelName, Recipient: msg.To, SentAt: n.now().UTC()}

	if ch.sender == nil {
		rec.Status = StatusDryRun
		n.logger.Info("Dry-run send",
			"channel", channelName,
			"recipient", msg.To,
			"subject", msg.Subject,
			"campaign_id", msg.CampaignID,
			"body_length", len(msg.Body))
		return rec, nil
	}

	var providerID string
	err := n.om.GetMetrics().TrackExternalCall(ctx, "notifier", channelName, func(ctx context.Context) error {
		var err error
		providerID, err = ch.breaker.Execute(func() (string, error) {
			return resilience.Retry(ctx, "send."+channelName, n.policy, n.logger, func(ctx context.Context) (string, error) {
				callCtx, cancel := context.WithTimeout(ctx, n.timeout)
				defer cancel()
				return ch.sender.Send(callCtx, msg)
			})
		})
		return err
	}, n.om)
	if err != nil {
		n.logger.LogError(err, "Delivery failed", "channel", channelName, "recipient", msg.To)
		return Receipt{}, errors.NewUpstreamError(errors.ErrCodeDeliveryFailed, "delivery over "+channelName+" failed", err).
			WithContext("channel", channelName)
	}
	rec.ProviderID = providerID
	rec.Status = StatusSent
	n.logger.Debug("Message sent", "channel", channelName, "recipient", msg.To, "provider_id", providerID)
	return rec, nil
}
