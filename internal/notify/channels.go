package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/smtp"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"jobpilot/internal/resilience"
)

// SendGridChannel delivers email through the SendGrid v3 mail send API.
type SendGridChannel struct {
	apiKey   string
	endpoint string
	from     Address
	client   *http.Client
}

// NewSendGridChannel targets endpoint, the full mail/send URL.
func NewSendGridChannel(apiKey, endpoint string, from Address, timeout time.Duration) *SendGridChannel {
	return &SendGridChannel{apiKey: apiKey, endpoint: endpoint, from: from, client: &http.Client{Timeout: timeout}}
}

func (c *SendGridChannel) Name() string { return ChannelSendGrid }

type sgAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sgPersonalization struct {
	To         []sgAddress       `json:"to"`
	CustomArgs map[string]string `json:"custom_args,omitempty"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sgMail struct {
	Personalizations []sgPersonalization `json:"personalizations"`
	From             sgAddress           `json:"from"`
	Subject          string              `json:"subject"`
	Content          []sgContent         `json:"content"`
	Categories       []string            `json:"categories,omitempty"`
}

func (c *SendGridChannel) Send(ctx context.Context, msg Message) (string, error) {
	if msg.Subject == "" {
		return "", fmt.Errorf("sendgrid: subject required")
	}
	p := sgPersonalization{To: []sgAddress{{Email: msg.To}}}
	if msg.CampaignID != "" {
		p.CustomArgs = map[string]string{"campaign_id": msg.CampaignID}
	}
	wire := sgMail{
		Personalizations: []sgPersonalization{p},
		From:             sgAddress{Email: c.from.Email, Name: c.from.Name},
		Subject:          msg.Subject,
		Content:          []sgContent{{Type: "text/plain", Value: msg.Body}},
	}
	if msg.CampaignID != "" {
		wire.Categories = []string{"campaign"}
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(wire); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &resilience.StatusError{Provider: "sendgrid", Code: resp.StatusCode, Body: string(raw)}
	}
	return strings.TrimSpace(resp.Header.Get("X-Message-Id")), nil
}

// TwilioChannel delivers SMS or WhatsApp messages through the Twilio
// Messages API.
type TwilioChannel struct {
	name       string
	accountSID string
	authToken  string
	from       string
	baseURL    string
	whatsapp   bool
	client     *http.Client
}

// NewTwilioChannel creates the SMS channel, or the WhatsApp channel when
// whatsapp is set.
func NewTwilioChannel(accountSID, authToken, from, baseURL string, whatsapp bool, timeout time.Duration) *TwilioChannel {
	name := ChannelSMS
	if whatsapp {
		name = ChannelWhatsApp
	}
	return &TwilioChannel{
		name:       name,
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		baseURL:    strings.TrimRight(baseURL, "/"),
		whatsapp:   whatsapp,
		client:     &http.Client{Timeout: timeout},
	}
}

func (c *TwilioChannel) Name() string { return c.name }

type twilioMessage struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

func (c *TwilioChannel) address(n string) string {
	if c.whatsapp && !strings.HasPrefix(n, "whatsapp:") {
		return "whatsapp:" + n
	}
	return n
}

func (c *TwilioChannel) Send(ctx context.Context, msg Message) (string, error) {
	body := msg.Body
	if msg.Subject != "" {
		body = msg.Subject + "\n\n" + body
	}
	form := url.Values{}
	form.Set("To", c.address(msg.To))
	form.Set("From", c.address(c.from))
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.baseURL, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &resilience.StatusError{Provider: "twilio", Code: resp.StatusCode, Body: string(raw)}
	}
	var out twilioMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("twilio decode error: %w", err)
	}
	return out.SID, nil
}

// SMTPChannel delivers email to a relay without authentication.
type SMTPChannel struct {
	addr string
	from Address
}

func NewSMTPChannel(addr string, from Address) *SMTPChannel {
	return &SMTPChannel{addr: addr, from: from}
}

func (c *SMTPChannel) Name() string { return ChannelSMTP }

func (c *SMTPChannel) Send(ctx context.Context, msg Message) (string, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return "", err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	host, _, _ := net.SplitHostPort(c.addr)
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return "", err
	}
	defer func() { _ = client.Close() }()

	if err := client.Mail(c.from.Email); err != nil {
		return "", err
	}
	if err := client.Rcpt(msg.To); err != nil {
		return "", err
	}
	w, err := client.Data()
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	if _, err := w.Write(mimeMessage(c.from, msg, id)); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return id, client.Quit()
}

func mimeMessage(from Address, msg Message, id string) []byte {
	var b strings.Builder
	if from.Name != "" {
		fmt.Fprintf(&b, "From: %s <%s>\r\n", from.Name, from.Email)
	} else {
		fmt.Fprintf(&b, "From: %s\r\n", from.Email)
	}
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Message-ID: <%s@jobpilot>\r\n", id)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
