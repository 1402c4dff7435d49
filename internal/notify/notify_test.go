package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"jobpilot/internal/config"
	"jobpilot/internal/errors"
)

func baseConfig() *config.Config {
	return &config.Config{
		Notify: config.NotifyConfig{
			FromEmail: "noreply@jobpilot.local",
			FromName:  "JobPilot",
			Timeout:   2 * time.Second,
		},
	}
}

func TestChannelsWithoutCredentialsAreDryRuns(t *testing.T) {
	n := New(baseConfig(), nil)
	infos := n.Channels()
	if len(infos) != 4 {
		t.Fatalf("channels = %d, want 4", len(infos))
	}
	for _, info := range infos {
		if info.Available {
			t.Errorf("%s available without credentials", info.Name)
		}
		if info.Capacity == 0 || info.CostPerUnit == 0 {
			t.Errorf("%s missing capacity or cost", info.Name)
		}
	}

	rec, err := n.Send(context.Background(), ChannelSendGrid, Message{To: "anna@example.com", Subject: "Hi", Body: "Hello"})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != StatusDryRun || rec.ProviderID != "" || rec.ID == "" {
		t.Errorf("receipt = %+v", rec)
	}
}

func TestSendValidation(t *testing.T) {
	n := New(baseConfig(), nil)
	tests := []struct {
		name    string
		channel string
		msg     Message
		code    string
	}{
		{"unknown channel", "pigeon", Message{To: "a@b.c"}, errors.ErrCodeInvalidRequest},
		{"missing recipient", ChannelSMS, Message{To: "  "}, errors.ErrCodeMissingField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Send(context.Background(), tt.channel, tt.msg)
			if !errors.HasCode(err, tt.code) {
				t.Errorf("err = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestSendGridChannel(t *testing.T) {
	var got sgMail
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sg-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("X-Message-Id", "sg-123")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cfg := baseConfig()
	cfg.Providers.SendGridAPIKey = "sg-key"
	cfg.Notify.SendGridEndpoint = srv.URL
	n := New(cfg, nil)
	if info, _ := n.Channel(ChannelSendGrid); !info.Available {
		t.Fatal("sendgrid should be available with a key")
	}

	rec, err := n.Send(context.Background(), ChannelSendGrid, Message{To: "anna@example.com", Subject: "Application", Body: "Hello", CampaignID: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != StatusSent || rec.ProviderID != "sg-123" {
		t.Errorf("receipt = %+v", rec)
	}
	if got.From.Email != "noreply@jobpilot.local" || got.Personalizations[0].To[0].Email != "anna@example.com" {
		t.Errorf("wire = %+v", got)
	}
	if got.Personalizations[0].CustomArgs["campaign_id"] != "c1" {
		t.Error("campaign id not forwarded")
	}
}

func TestSendGridRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errors":[{"message":"forbidden"}]}`))
	}))
	defer srv.Close()

	cfg := baseConfig()
	cfg.Providers.SendGridAPIKey = "sg-key"
	cfg.Notify.SendGridEndpoint = srv.URL
	_, err := New(cfg, nil).Send(context.Background(), ChannelSendGrid, Message{To: "a@b.c", Subject: "s", Body: "b"})
	if !errors.HasCode(err, errors.ErrCodeDeliveryFailed) {
		t.Fatalf("err = %v", err)
	}
}

func TestTwilioChannels(t *testing.T) {
	var mu sync.Mutex
	var forms []map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC1" || pass != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/Accounts/AC1/Messages.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = r.ParseForm()
		mu.Lock()
		forms = append(forms, map[string]string{"To": r.PostForm.Get("To"), "From": r.PostForm.Get("From"), "Body": r.PostForm.Get("Body")})
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1","status":"queued"}`))
	}))
	defer srv.Close()

	cfg := baseConfig()
	cfg.Providers.TwilioAccountSID = "AC1"
	cfg.Providers.TwilioAuthToken = "tok"
	cfg.Providers.TwilioFromNumber = "+41000"
	cfg.Notify.TwilioEndpoint = srv.URL
	n := New(cfg, nil)

	for _, ch := range []string{ChannelSMS, ChannelWhatsApp} {
		rec, err := n.Send(context.Background(), ch, Message{To: "+41791", Body: "Interview tomorrow"})
		if err != nil {
			t.Fatalf("%s: %v", ch, err)
		}
		if rec.ProviderID != "SM1" {
			t.Errorf("%s provider id = %s", ch, rec.ProviderID)
		}
	}
	if len(forms) != 2 {
		t.Fatalf("requests = %d", len(forms))
	}
	if forms[0]["To"] != "+41791" || forms[0]["From"] != "+41000" {
		t.Errorf("sms form = %v", forms[0])
	}
	if forms[1]["To"] != "whatsapp:+41791" || forms[1]["From"] != "whatsapp:+41000" {
		t.Errorf("whatsapp form = %v", forms[1])
	}
}

// fakeSMTP accepts one message and hands its DATA section to received.
func fakeSMTP(t *testing.T, received chan<- string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		r := bufio.NewReader(conn)
		reply := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }
		reply("220 localhost ready")
		var data strings.Builder
		inData := false
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if inData {
				if line == ".\r\n" {
					inData = false
					received <- data.String()
					reply("250 queued")
					continue
				}
				data.WriteString(line)
				continue
			}
			switch cmd := strings.ToUpper(strings.TrimSpace(line)); {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				reply("250 localhost")
			case strings.HasPrefix(cmd, "DATA"):
				inData = true
				reply("354 go ahead")
			case strings.HasPrefix(cmd, "QUIT"):
				reply("221 bye")
				return
			default:
				reply("250 ok")
			}
		}
	}()
	return ln.Addr().String()
}

func TestSMTPChannel(t *testing.T) {
	received := make(chan string, 1)
	cfg := baseConfig()
	cfg.Notify.SMTPAddr = fakeSMTP(t, received)
	n := New(cfg, nil)

	rec, err := n.Send(context.Background(), ChannelSMTP, Message{To: "anna@example.com", Subject: "Follow-up", Body: "line one\nline two"})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != StatusSent || rec.ProviderID == "" {
		t.Errorf("receipt = %+v", rec)
	}
	select {
	case data := <-received:
		for _, want := range []string{"Subject: Follow-up", "From: JobPilot <noreply@jobpilot.local>", "line one\r\nline two"} {
			if !strings.Contains(data, want) {
				t.Errorf("message missing %q:\n%s", want, data)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

type recordingSender struct{ sent []Message }

func (r *recordingSender) Name() string { return ChannelSMTP }
func (r *recordingSender) Send(_ context.Context, msg Message) (string, error) {
	r.sent = append(r.sent, msg)
	return "local-1", nil
}

func TestWithSenderOverridesChannel(t *testing.T) {
	s := &recordingSender{}
	n := New(baseConfig(), nil, WithSender(s))
	rec, err := n.Send(context.Background(), ChannelSMTP, Message{To: "x@y.z", Body: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if rec.ProviderID != "local-1" || len(s.sent) != 1 {
		t.Errorf("receipt = %+v, sent = %d", rec, len(s.sent))
	}
}
