package experiment

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"jobpilot/internal/config"
	"jobpilot/internal/cvadapt"
	"jobpilot/internal/errors"
	"jobpilot/internal/models"
	"jobpilot/internal/scheduler"
	"jobpilot/internal/store"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func testConfig() config.ExperimentConfig {
	return config.ExperimentConfig{
		TargetPerVariant:  50,
		MaxDuration:       30 * 24 * time.Hour,
		EarlyStopMinTotal: 10,
		EarlyStopSpread:   0.1,
		Seed:              42,
	}
}

func newOrchestrator(t *testing.T, c *clock) *Orchestrator {
	t.Helper()
	o, _ := newOrchestratorOn(t, c.now)
	return o
}

func newOrchestratorOn(t *testing.T, now func() time.Time) (*Orchestrator, *store.Store) {
	t.Helper()
	s, err := store.Open(t.TempDir(), errors.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	adapter := cvadapt.New(errors.NewNop(), cvadapt.WithClock(now))
	return New(s, adapter, testConfig(), errors.NewNop(), WithClock(now)), s
}

func parentCV() models.CV {
	return models.CV{
		ID:      "cv-1",
		Summary: "Analyst with 6 years of experience.",
		Skills:  []string{"Excel", "SAP", "Python", "Power BI"},
		Experience: []models.ExperienceEntry{{
			Role:        "BI Analyst",
			Company:     "Globex",
			Description: "Maintained SAP month-end close. Built Power BI dashboards for 40 stores.",
		}},
	}
}

func bi() models.JobRequirements {
	return models.JobRequirements{RequiredSkills: []string{"power bi", "python"}, Seniority: models.SenioritySenior}
}

func yes() *bool { b := true; return &b }
func no() *bool  { b := false; return &b }

func TestCreateExperiment(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	o := newOrchestrator(t, c)

	exp, variants, err := o.Create(context.Background(), CreateRequest{
		CandidateID: "cand", Parent: parentCV(), JobFingerprint: "job-1", Requirements: bi(), VariantCount: 3,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(variants) != 3 || len(exp.VariantIDs) != 3 {
		t.Fatalf("variants = %d, want 3", len(variants))
	}
	if len(variants[0].Modifications) != 0 {
		t.Error("baseline variant carries modifications")
	}
	for _, v := range variants {
		if v.ParentCVID != "cv-1" || v.JobFingerprint != "job-1" {
			t.Errorf("variant %s does not descend from the experiment's parent and job", v.ID)
		}
	}
	if exp.Status != models.ExperimentActive || exp.ApplicationsTarget != 50 {
		t.Errorf("experiment = %+v", exp)
	}

	got, gotVariants, err := o.Get(exp.ID)
	if err != nil || got.ID != exp.ID || len(gotVariants) != 3 {
		t.Errorf("Get() = %+v, %d variants, %v", got, len(gotVariants), err)
	}
}

func TestCreateRejectsNarrowExperiments(t *testing.T) {
	c := &clock{t: time.Now()}
	o := newOrchestrator(t, c)
	plain := models.CV{
		ID:         "cv-plain",
		Skills:     []string{"Excel"},
		Experience: []models.ExperienceEntry{{Role: "Clerk", Company: "Initech", Description: "Filed reports."}},
	}

	tests := []struct {
		name string
		req  models.JobRequirements
	}{
		{"nothing to adapt", models.JobRequirements{RequiredSkills: []string{"rust"}}},
		{"no required skills", models.JobRequirements{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := o.Create(context.Background(), CreateRequest{Parent: plain, JobFingerprint: "j", Requirements: tt.req, VariantCount: 2})
			if !stderrors.Is(err, errors.ErrExperimentTooNarrow) {
				t.Fatalf("Create() error = %v, want ExperimentTooNarrow", err)
			}
			if errors.HTTPStatus(err) != 409 {
				t.Errorf("status = %d, want 409", errors.HTTPStatus(err))
			}
		})
	}

	if _, _, err := o.Create(context.Background(), CreateRequest{Parent: parentCV(), JobFingerprint: "j", Requirements: bi(), VariantCount: 1}); errors.HTTPStatus(err) != 400 {
		t.Errorf("single variant error = %v, want validation", err)
	}
}

func TestScenarioExperimentDeclaresWinner(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	o := newOrchestrator(t, c)
	ctx := context.Background()

	exp, _, err := o.Create(ctx, CreateRequest{Parent: parentCV(), JobFingerprint: "job-1", Requirements: bi(), VariantCount: 2})
	if err != nil {
		t.Fatal(err)
	}
	v0, v1 := exp.VariantIDs[0], exp.VariantIDs[1]

	apps := map[string][]models.Application{}
	for i := 0; i < 20; i++ {
		for _, vid := range []string{v0, v1} {
			app, err := o.Assign(ctx, AssignRequest{ExperimentID: exp.ID, VariantID: vid, Platform: "linkedin"})
			if err != nil {
				t.Fatalf("Assign() error = %v", err)
			}
			apps[vid] = append(apps[vid], app)
		}
	}

	c.t = c.t.Add(72 * time.Hour)
	interview := models.OutcomeUpdate{ResponseReceived: yes(), InterviewScheduled: yes()}

	_, got, err := o.RecordOutcome(ctx, apps[v0][0].ID, interview)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if got.Status != models.ExperimentActive {
			t.Fatalf("experiment completed early after %d v1 interviews", i)
		}
		_, got, err = o.RecordOutcome(ctx, apps[v1][i].ID, interview)
		if err != nil {
			t.Fatal(err)
		}
	}

	if got.Status != models.ExperimentCompleted || got.CompletionReason != completionEarlyStop {
		t.Fatalf("status = %s (%s), want completed by early stop", got.Status, got.CompletionReason)
	}
	if got.Winner != v1 {
		t.Errorf("winner = %s, want %s", got.Winner, v1)
	}
	if got.Confidence != ConfidenceMedium && got.Confidence != ConfidenceHigh {
		t.Errorf("confidence = %s, want medium or high", got.Confidence)
	}

	if _, err := o.Assign(ctx, AssignRequest{ExperimentID: exp.ID, Platform: "indeed"}); errors.HTTPStatus(err) != 409 {
		t.Errorf("assign on completed experiment error = %v, want conflict", err)
	}

	// Outcomes that arrive after completion still count, and the verdict
	// follows them.
	for i := 1; i < 8; i++ {
		if _, got, err = o.RecordOutcome(ctx, apps[v0][i].ID, interview); err != nil {
			t.Fatal(err)
		}
	}
	if got.StatsFor(v0).Interviews != 8 {
		t.Errorf("v0 interviews = %d, want 8", got.StatsFor(v0).Interviews)
	}
	if got.Winner != v0 || got.Winner != winner(got.Stats) {
		t.Errorf("winner = %s, want %s after late outcomes", got.Winner, v0)
	}
	if got.Confidence != Confidence(got.Stats) {
		t.Errorf("confidence %s disagrees with stats", got.Confidence)
	}
	if got.Status != models.ExperimentCompleted || got.CompletionReason != completionEarlyStop {
		t.Errorf("late outcomes changed completion: %s/%s", got.Status, got.CompletionReason)
	}
	stored, _, _ := o.Get(exp.ID)
	if stored.Winner != v0 {
		t.Errorf("stored winner = %s", stored.Winner)
	}
}

func TestOutcomeMonotonicity(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	c := &clock{t: start}
	o := newOrchestrator(t, c)
	ctx := context.Background()

	exp, _, err := o.Create(ctx, CreateRequest{Parent: parentCV(), JobFingerprint: "job-1", Requirements: bi(), VariantCount: 2})
	if err != nil {
		t.Fatal(err)
	}
	app, err := o.Assign(ctx, AssignRequest{ExperimentID: exp.ID, Platform: "indeed"})
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := o.RecordOutcome(ctx, app.ID, models.OutcomeUpdate{ResponseReceived: yes(), At: start.Add(-time.Hour)}); !stderrors.Is(err, errors.ErrInvalidOutcomeUpdate) {
		t.Errorf("backdated outcome error = %v, want InvalidOutcomeUpdate", err)
	}

	updated, _, err := o.RecordOutcome(ctx, app.ID, models.OutcomeUpdate{ResponseReceived: yes(), At: start.Add(time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if !updated.ResponseReceived || updated.ResponseAt == nil || updated.ResponseAt.Before(updated.SubmittedAt) {
		t.Errorf("response not recorded: %+v", updated)
	}

	_, _, err = o.RecordOutcome(ctx, app.ID, models.OutcomeUpdate{ResponseReceived: no(), OfferReceived: yes(), At: start.Add(2 * time.Hour)})
	if errors.HTTPStatus(err) != 409 || !errors.HasCode(err, errors.ErrCodeInvalidOutcomeUpdate) {
		t.Fatalf("true to false error = %v, want 409 InvalidOutcomeUpdate", err)
	}
	apps, _ := o.Applications(exp.ID)
	if len(apps) != 1 || apps[0].OfferReceived || !apps[0].ResponseReceived {
		t.Errorf("rejected update mutated the application: %+v", apps)
	}

	// Repeating a recorded outcome is a no-op for the counters.
	_, after, err := o.RecordOutcome(ctx, app.ID, models.OutcomeUpdate{ResponseReceived: yes()})
	if err != nil {
		t.Fatal(err)
	}
	if s := after.StatsFor(app.VariantID); s.Responses != 1 {
		t.Errorf("responses = %d, want 1", s.Responses)
	}
}

func TestOutcomeKeepsSweptFollowUp(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	var sweep func()
	now := func() time.Time {
		if sweep != nil {
			run := sweep
			sweep = nil
			run()
		}
		return start
	}
	o, st := newOrchestratorOn(t, now)
	ctx := context.Background()

	exp, _, err := o.Create(ctx, CreateRequest{Parent: parentCV(), JobFingerprint: "job-1", Requirements: bi(), VariantCount: 2})
	if err != nil {
		t.Fatal(err)
	}
	// The sweeper runs on the wall clock, so any date in early March is due.
	app, err := o.Assign(ctx, AssignRequest{
		ExperimentID: exp.ID,
		Platform:     "indeed",
		FollowUpFor: func(string, time.Time, string) *time.Time {
			at := start.Add(24 * time.Hour)
			return &at
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	// A sweep lands while the outcome is being recorded.
	sweeper := scheduler.NewSweeper(st, "@every 1h", nil)
	sweep = func() {
		if n, err := sweeper.Sweep(); err != nil || n != 1 {
			t.Errorf("Sweep() = %d, %v, want 1 marked", n, err)
		}
	}
	updated, _, err := o.RecordOutcome(ctx, app.ID, models.OutcomeUpdate{ResponseReceived: yes()})
	if err != nil {
		t.Fatal(err)
	}
	if !updated.FollowUpDue || !updated.ResponseReceived {
		t.Errorf("returned application = %+v, want response and follow-up due", updated)
	}

	apps, err := o.Applications(exp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(apps) != 1 || !apps[0].FollowUpDue || !apps[0].ResponseReceived {
		t.Errorf("stored application = %+v, want response and follow-up due", apps)
	}
}

func TestMaxDurationCompletes(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	o := newOrchestrator(t, c)
	ctx := context.Background()
	exp, _, err := o.Create(ctx, CreateRequest{Parent: parentCV(), JobFingerprint: "job-1", Requirements: bi(), VariantCount: 2})
	if err != nil {
		t.Fatal(err)
	}

	c.t = c.t.Add(31 * 24 * time.Hour)
	if _, err := o.Assign(ctx, AssignRequest{ExperimentID: exp.ID, Platform: "indeed"}); err != nil {
		t.Fatal(err)
	}
	got, _, _ := o.Get(exp.ID)
	if got.Status != models.ExperimentCompleted || got.CompletionReason != completionMaxDuration {
		t.Errorf("experiment = %s/%s, want completed by max duration", got.Status, got.CompletionReason)
	}
	if got.Confidence != ConfidenceLow {
		t.Errorf("confidence = %s, want low", got.Confidence)
	}
}

func TestMaxDurationCompletesOnRead(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	o := newOrchestrator(t, c)
	ctx := context.Background()
	first, _, err := o.Create(ctx, CreateRequest{Parent: parentCV(), JobFingerprint: "job-1", Requirements: bi(), VariantCount: 2})
	if err != nil {
		t.Fatal(err)
	}
	c.t = c.t.Add(20 * 24 * time.Hour)
	second, _, err := o.Create(ctx, CreateRequest{Parent: parentCV(), JobFingerprint: "job-2", Requirements: bi(), VariantCount: 2})
	if err != nil {
		t.Fatal(err)
	}

	if got, _, _ := o.Get(first.ID); got.Status != models.ExperimentActive {
		t.Fatalf("experiment completed before max duration: %s", got.Status)
	}

	c.t = c.t.Add(11 * 24 * time.Hour)
	got, _, err := o.Get(first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.ExperimentCompleted || got.CompletionReason != completionMaxDuration || got.EndedAt == nil {
		t.Errorf("Get = %s/%s, want completed by max duration without new events", got.Status, got.CompletionReason)
	}

	all, err := o.List()
	if err != nil {
		t.Fatal(err)
	}
	status := map[string]models.ExperimentStatus{}
	for _, e := range all {
		status[e.ID] = e.Status
	}
	if status[first.ID] != models.ExperimentCompleted || status[second.ID] != models.ExperimentActive {
		t.Errorf("List statuses = %v", status)
	}

	c.t = c.t.Add(20 * 24 * time.Hour)
	all, _ = o.List()
	for _, e := range all {
		if e.Status != models.ExperimentCompleted {
			t.Errorf("List left %s %s past max duration", e.ID, e.Status)
		}
	}
}

func TestPerformanceScore(t *testing.T) {
	tests := []struct {
		name  string
		stats models.VariantStats
		want  float64
	}{
		{"no applications", models.VariantStats{}, 0},
		{"full sample", models.VariantStats{ApplicationsSent: 20, Responses: 4, Interviews: 4}, 0.14},
		{"damped sample", models.VariantStats{ApplicationsSent: 10, Responses: 10, Interviews: 10, Offers: 10}, 0.5},
		{"large sample", models.VariantStats{ApplicationsSent: 40, Offers: 4}, 0.03},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PerformanceScore(tt.stats); got != tt.want {
				t.Errorf("PerformanceScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWeightedSampling(t *testing.T) {
	if w := Weight(models.VariantStats{ApplicationsSent: 2}); w != 1.1 {
		t.Errorf("exploring weight = %v, want 1.1", w)
	}
	if w := Weight(models.VariantStats{ApplicationsSent: 30, PerformanceScore: 0.4}); w != 0.4 {
		t.Errorf("weight = %v, want 0.4", w)
	}

	stats := []models.VariantStats{
		{VariantID: "a", ApplicationsSent: 30, PerformanceScore: 0},
		{VariantID: "b", ApplicationsSent: 30, PerformanceScore: 0.9},
	}
	counts := map[string]int{}
	for n := 0; n < 1000; n++ {
		counts[pick(stats, sampler(7, "exp", n))]++
	}
	if counts["b"] < 800 || counts["a"] == 0 {
		t.Errorf("counts = %v, want b near 90%% and a sampled", counts)
	}

	first := pick(stats, sampler(7, "exp", 3))
	for range 5 {
		if pick(stats, sampler(7, "exp", 3)) != first {
			t.Fatal("sampling is not reproducible for a fixed seed and draw")
		}
	}
}

func TestConfidence(t *testing.T) {
	s := func(sent int, perf float64) models.VariantStats {
		return models.VariantStats{ApplicationsSent: sent, PerformanceScore: perf}
	}
	tests := []struct {
		name  string
		stats []models.VariantStats
		want  string
	}{
		{"small sample", []models.VariantStats{s(4, 0.5), s(20, 0)}, ConfidenceLow},
		{"identical", []models.VariantStats{s(20, 0.2), s(20, 0.2)}, ConfidenceNoDifference},
		{"wide spread", []models.VariantStats{s(20, 0.3), s(20, 0.1)}, ConfidenceHigh},
		{"narrow spread", []models.VariantStats{s(20, 0.2), s(20, 0.1)}, ConfidenceMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Confidence(tt.stats); got != tt.want {
				t.Errorf("Confidence() = %s, want %s", got, tt.want)
			}
		})
	}
}
