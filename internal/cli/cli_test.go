package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"jobpilot/internal/config"
	"jobpilot/internal/errors"
	"jobpilot/internal/scheduler"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Storage:   config.StorageConfig{DataDir: t.TempDir()},
		Scheduler: config.SchedulerConfig{MaxPerDay: 5, MaxPerPlatformPerDay: 3, MaxPerCompanyPerDay: 1, WindowDays: 5},
	}
}

func run(t *testing.T, cfg *config.Config, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return Execute(context.Background(), cfg, errors.NewNop())
}

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	defer rootCmd.SetOut(nil)
	if err := run(t, testConfig(t), "version"); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "jobpilot version dev") {
		t.Errorf("version output = %q", out.String())
	}
}

func TestScheduleCommand(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "intents.json")
	intents := `[
		{"variant_id":"v1","job_fingerprint":"j1","platform":"linkedin","company":"Acme","priority":0.9},
		{"variant_id":"v2","job_fingerprint":"j2","platform":"xing","company":"Acme","priority":0.4}
	]`
	if err := os.WriteFile(in, []byte(intents), 0600); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "plan.json")
	if err := run(t, cfg, "schedule", in, "--start", "2026-03-02", "-o", out); err != nil {
		t.Fatalf("schedule error = %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	var res scheduler.Result
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatal(err)
	}
	if res.Metrics.Placed != 2 || len(res.Dropped) != 0 {
		t.Errorf("placed = %d, dropped = %v", res.Metrics.Placed, res.Dropped)
	}

	book := filepath.Join(dir, "plan.xlsx")
	if err := run(t, cfg, "schedule", in, "--start", "2026-03-02", "--xlsx", "-o", book); err != nil {
		t.Fatalf("schedule --xlsx error = %v", err)
	}
	if data, err := os.ReadFile(book); err != nil || !bytes.HasPrefix(data, []byte("PK")) {
		t.Errorf("workbook = %d bytes, %v", len(data), err)
	}
}

func TestBuildServiceRejectsUnknownName(t *testing.T) {
	cfg := testConfig(t)
	st, err := openStore(cfg, errors.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := buildService(context.Background(), "billing", cfg, st, nil, nil, errors.NewNop()); !errors.HasCode(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("buildService(billing) error = %v", err)
	}
}

func TestApplyServeFlags(t *testing.T) {
	defer func() { serveFlags.port, serveFlags.tlsMode = "", "" }()
	cfg := &config.Config{Server: config.ServerConfig{Host: "0.0.0.0", Port: "8000"}}
	serveFlags.port = "9100"
	serveFlags.tlsMode = "server"

	applyServeFlags(cfg)
	if cfg.Server.Port != "9100" || cfg.Server.Host != "0.0.0.0" || cfg.Server.TLS.Mode != "server" {
		t.Errorf("server config = %+v", cfg.Server)
	}
}
