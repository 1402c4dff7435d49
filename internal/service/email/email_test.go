package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"jobpilot/internal/config"
	"jobpilot/internal/errors"
	"jobpilot/internal/notify"
	"jobpilot/internal/server"
	"jobpilot/internal/store"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (r *recordingSender) Name() string { return notify.ChannelSMTP }

func (r *recordingSender) Send(_ context.Context, msg notify.Message) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return "smtp-local", nil
}

func newTestHandler(t *testing.T) (http.Handler, *recordingSender) {
	t.Helper()
	st, err := store.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	sender := &recordingSender{}
	cfg := &config.Config{Notify: config.NotifyConfig{FromEmail: "noreply@jobpilot.local"}}
	n := notify.New(cfg, nil, notify.WithSender(sender))
	counters := store.NewCounters(st, Name)
	svc, err := New(st, n, counters, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return server.NewServer(cfg, server.ServerConfig{InsecureNoAuth: true}, svc, counters, nil, nil).Handler(), sender
}

func call(t *testing.T, h http.Handler, method, target, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	out := map[string]any{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: invalid JSON %q", method, target, rec.Body.String())
	}
	return rec.Code, out
}

const campaignBody = `{
	"campaign_name": "Data roles",
	"channels": ["email_smtp", "sms_twilio", "carrier_pigeon"],
	"recipients": [
		{"id": "anna", "email": "anna@acme.test", "phone": "+41791", "name": "Anna", "company": "Acme", "role": "Data Engineer"},
		{"email": "hr@globex.test", "company": "Globex"}
	]
}`

func TestCampaignLifecycle(t *testing.T) {
	h, sender := newTestHandler(t)

	code, init := call(t, h, "POST", "/campaign/initiate", campaignBody)
	if code != http.StatusCreated || init["status"] != StatusInitiated {
		t.Fatalf("initiate = %d %v", code, init)
	}
	if init["channels_activated"] != float64(2) || init["audience_size"] != float64(2) {
		t.Errorf("initiate = %v", init)
	}
	id := init["application_campaign_id"].(string)

	if code, body := call(t, h, "POST", "/campaign/"+id+"/send", ""); code != http.StatusBadRequest || body["error"] != "No content generated for campaign" {
		t.Fatalf("send without content = %d %v", code, body)
	}

	code, content := call(t, h, "POST", "/campaign/"+id+"/content", `{"template_type":"application","theme":"data_platforms"}`)
	if code != http.StatusOK || content["content_generated"] != true || content["word_count"].(float64) < 20 {
		t.Fatalf("content = %d %v", code, content)
	}

	code, send := call(t, h, "POST", "/campaign/"+id+"/send", "")
	if code != http.StatusOK || send["status"] != "sending_initiated" || send["campaign_status"] != StatusCompleted {
		t.Fatalf("send = %d %v", code, send)
	}
	// two emails over the live sender, one SMS dry run, one recipient without a phone
	if send["messages_sent"] != float64(2) || send["dry_runs"] != float64(1) || send["skipped"] != float64(1) {
		t.Errorf("send counts = %v", send)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("sender got %d messages", len(sender.sent))
	}
	var annaMsg notify.Message
	for _, m := range sender.sent {
		if m.To == "anna@acme.test" {
			annaMsg = m
		}
	}
	if annaMsg.Subject != "Application for Data Engineer" || !strings.Contains(annaMsg.Body, "Dear Anna") ||
		!strings.Contains(annaMsg.Body, "at Acme") || !strings.Contains(annaMsg.Body, "data platforms") || annaMsg.CampaignID != id {
		t.Errorf("personalized message = %+v", annaMsg)
	}

	if code, _ := call(t, h, "POST", "/campaign/"+id+"/send", ""); code != http.StatusConflict {
		t.Errorf("second send = %d", code)
	}

	for range 2 {
		call(t, h, "POST", "/campaign/"+id+"/outcome", `{"recipient":"anna@acme.test","event":"opened"}`)
	}
	_, out := call(t, h, "POST", "/campaign/"+id+"/outcome", `{"recipient":"r2","event":"replied"}`)
	m := out["performance_metrics"].(map[string]any)
	if m["opened"] != float64(1) || m["replied"] != float64(1) || m["open_rate"] != 0.333 {
		t.Errorf("metrics = %v", m)
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"unknown recipient", `{"recipient":"nobody","event":"opened"}`, http.StatusNotFound},
		{"unknown event", `{"recipient":"anna","event":"clicked"}`, http.StatusBadRequest},
		{"before send", `{"recipient":"anna","event":"opened","at":"2001-01-01T00:00:00Z"}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, body := call(t, h, "POST", "/campaign/"+id+"/outcome", tt.body); code != tt.want {
				t.Errorf("got %d %v", code, body)
			}
		})
	}

	_, status := call(t, h, "GET", "/campaign/"+id+"/status", "")
	if status["status"] != StatusCompleted || len(status["sends"].([]any)) != 4 {
		t.Errorf("status = %v", status)
	}

	_, metrics := call(t, h, "GET", "/campaigns/metrics", "")
	if metrics["total_campaigns"] != float64(1) || metrics["completed_campaigns"] != float64(1) || metrics["total_messages_sent"] != float64(2) {
		t.Errorf("metrics = %v", metrics)
	}

	if code, body := call(t, h, "DELETE", "/campaign/"+id, ""); code != http.StatusOK || body["terminated"] != true {
		t.Errorf("delete = %d %v", code, body)
	}
	if code, _ := call(t, h, "GET", "/campaign/"+id+"/status", ""); code != http.StatusNotFound {
		t.Errorf("status after delete = %d", code)
	}
}

func TestInitiateValidation(t *testing.T) {
	h, _ := newTestHandler(t)
	tests := []struct {
		name string
		body string
		code string
	}{
		{"no known channel", `{"channels":["fax"]}`, errors.ErrCodeInvalidRequest},
		{"recipient without address", `{"recipients":[{"name":"Bob"}]}`, errors.ErrCodeMissingField},
		{"duplicate ids", `{"recipients":[{"id":"a","email":"a@x.test"},{"id":"a","email":"b@x.test"}]}`, errors.ErrCodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := call(t, h, "POST", "/campaign/initiate", tt.body)
			if code != http.StatusBadRequest || body["code"] != tt.code {
				t.Errorf("got %d %v", code, body)
			}
		})
	}

	_, init := call(t, h, "POST", "/campaign/initiate", campaignBody)
	id := init["application_campaign_id"].(string)
	if code, _ := call(t, h, "POST", "/campaign/"+id+"/content", `{"template_type":"poem"}`); code != http.StatusBadRequest {
		t.Errorf("unknown template = %d", code)
	}
}

func TestPersonalize(t *testing.T) {
	h, _ := newTestHandler(t)
	_, init := call(t, h, "POST", "/campaign/initiate", campaignBody)
	id := init["application_campaign_id"].(string)
	call(t, h, "POST", "/campaign/"+id+"/content", `{"template_type":"follow_up"}`)

	code, body := call(t, h, "GET", "/communication/personalize/anna?campaign_id="+id, "")
	if code != http.StatusOK || body["subject"] != "Following up on my application for Data Engineer" {
		t.Fatalf("personalize = %d %v", code, body)
	}
	code, body = call(t, h, "GET", "/communication/personalize/r2?campaign_id="+id+"&channel=sms_twilio", "")
	if code != http.StatusOK || body["addressable"] != false || !strings.Contains(body["personalized_content"].(string), "Dear Hiring Team") {
		t.Errorf("fallback personalize = %d %v", code, body)
	}
	if code, _ := call(t, h, "GET", "/communication/personalize/anna", ""); code != http.StatusBadRequest {
		t.Errorf("missing campaign_id = %d", code)
	}

	long := strings.Repeat("word ", 200)
	code, body = call(t, h, "POST", "/communication/personalize/x", `{"base_content":"Hi {{name}}, `+long+`","profile":{"name":"Bo"},"channel":"whatsapp_twilio"}`)
	out, _ := body["personalized_content"].(string)
	if code != http.StatusOK || !strings.HasPrefix(out, "Hi Bo,") || utf8.RuneCountInString(out) > shortMessageLimit+1 {
		t.Errorf("compacted = %d %q", code, out)
	}
}

func TestChannelsAvailable(t *testing.T) {
	h, _ := newTestHandler(t)
	_, body := call(t, h, "GET", "/channels/available", "")
	if len(body["channels"].([]any)) != 4 {
		t.Fatalf("channels = %v", body["channels"])
	}
	avail := body["available_channels"].([]any)
	if len(avail) != 1 || avail[0] != notify.ChannelSMTP || body["dry_run_channels"] != float64(3) {
		t.Errorf("available = %v", body)
	}
}
