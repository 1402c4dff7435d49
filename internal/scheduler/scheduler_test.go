package scheduler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"jobpilot/internal/errors"
	"jobpilot/internal/models"
	"jobpilot/internal/store"
)

var monday = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func defaults() Constraints {
	return Constraints{MaxPerDay: 15, MaxPerPlatformPerDay: 8, MaxPerCompanyPerDay: 2, WindowDays: 5}
}

// checkPlan asserts caps and that every intent appears exactly once.
func checkPlan(t *testing.T, intents []Intent, c Constraints, res Result) {
	t.Helper()
	seen := map[string]int{}
	for _, p := range res.Placements() {
		seen[p.VariantID]++
	}
	for _, d := range res.Dropped {
		seen[d.VariantID]++
		switch d.Reason {
		case ReasonDayCap, ReasonPlatformCap, ReasonCompanyCap, ReasonWindowExhausted, ReasonPlatformIneligible:
		default:
			t.Errorf("unknown drop reason %q", d.Reason)
		}
	}
	for _, in := range intents {
		if seen[in.VariantID] != 1 {
			t.Errorf("intent %s appears %d times", in.VariantID, seen[in.VariantID])
		}
	}
	if len(seen) != len(intents) {
		t.Errorf("output has %d intents, input %d", len(seen), len(intents))
	}

	for _, day := range res.Days {
		ds := res.Schedule[day]
		all := append(append([]Placement{}, ds.Morning...), ds.Afternoon...)
		if len(ds.Morning) > SlotCapacity || len(ds.Afternoon) > SlotCapacity {
			t.Errorf("%s: slot over capacity", day)
		}
		if len(all) > c.MaxPerDay {
			t.Errorf("%s: %d placements, cap %d", day, len(all), c.MaxPerDay)
		}
		platforms, companies := map[string]int{}, map[string]int{}
		for _, p := range all {
			platforms[p.Platform]++
			if p.Company != "" {
				companies[p.Company]++
			}
		}
		for k, n := range platforms {
			if n > c.MaxPerPlatformPerDay {
				t.Errorf("%s: platform %s has %d, cap %d", day, k, n, c.MaxPerPlatformPerDay)
			}
		}
		for k, n := range companies {
			if n > c.MaxPerCompanyPerDay {
				t.Errorf("%s: company %s has %d, cap %d", day, k, n, c.MaxPerCompanyPerDay)
			}
		}
	}
}

func TestScenarioSchedulerCaps(t *testing.T) {
	var intents []Intent
	for i := 0; i < 40; i++ {
		intents = append(intents, Intent{
			VariantID:      fmt.Sprintf("v%02d", i),
			JobFingerprint: fmt.Sprintf("job%02d", i),
			Platform:       []string{"linkedin", "indeed"}[i%2],
			Company:        []string{"acme", "globex"}[(i/2)%2],
			Priority:       float64(i%10) / 10,
		})
	}
	c := Constraints{MaxPerDay: 10, MaxPerPlatformPerDay: 6, MaxPerCompanyPerDay: 5, WindowDays: 5}

	res, err := New(defaults(), nil, errors.NewNop()).Plan(context.Background(), intents, c, monday)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	checkPlan(t, intents, c, res)

	tuesday := res.Schedule["2026-03-03"]
	if tuesday == nil || len(tuesday.Morning) == 0 {
		t.Fatal("Tuesday morning is empty")
	}
	friday := res.Schedule["2026-03-06"]
	if len(friday.Afternoon) > 0 && len(tuesday.Morning) < len(friday.Afternoon) {
		t.Errorf("Friday afternoon (%d) filled ahead of Tuesday morning (%d)", len(friday.Afternoon), len(tuesday.Morning))
	}
	if res.Metrics.Placed+res.Metrics.Dropped != 40 {
		t.Errorf("metrics = %+v", res.Metrics)
	}
}

func TestSchedulerProperties(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	platforms := []string{"linkedin", "indeed", "glassdoor", "monster", "xing"}
	companies := []string{"", "acme", "globex", "initech", "hooli"}

	for run := 0; run < 200; run++ {
		n := r.IntN(80)
		intents := make([]Intent, n)
		for i := range intents {
			intents[i] = Intent{
				VariantID:      fmt.Sprintf("r%d-i%d", run, i),
				JobFingerprint: fmt.Sprintf("job%d", r.IntN(10)),
				Platform:       platforms[r.IntN(len(platforms))],
				Company:        companies[r.IntN(len(companies))],
				Priority:       r.Float64(),
			}
		}
		c := Constraints{
			MaxPerDay:            1 + r.IntN(15),
			MaxPerPlatformPerDay: 1 + r.IntN(8),
			MaxPerCompanyPerDay:  1 + r.IntN(3),
			WindowDays:           1 + r.IntN(7),
		}
		res, err := New(defaults(), nil, nil).Plan(context.Background(), intents, c, monday.AddDate(0, 0, r.IntN(7)))
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		checkPlan(t, intents, c, res)
	}
}

func TestPlacementPrefersBestSlot(t *testing.T) {
	s := New(defaults(), nil, nil)
	res, err := s.Plan(context.Background(), []Intent{{VariantID: "a", JobFingerprint: "j", Platform: "linkedin", Priority: 0.9}}, Constraints{}, monday)
	if err != nil {
		t.Fatal(err)
	}
	p := res.Placements()[0]
	if p.Day != "2026-03-03" || p.Slot != Morning {
		t.Errorf("placed on %s %s, want Tuesday morning", p.Day, p.Slot)
	}
	if want := 0.95 * 0.92 * 1.15; p.Score != roundTo6(want) {
		t.Errorf("score = %v, want %v", p.Score, roundTo6(want))
	}
	if p.SendAt.Hour() != morningHour {
		t.Errorf("send at %v", p.SendAt)
	}
	if res.Metrics.AverageQuality != 1.0051 {
		t.Errorf("average quality = %v", res.Metrics.AverageQuality)
	}

	// The fourth intent sees a busy Tuesday morning and moves to Tuesday afternoon.
	var intents []Intent
	for i := 0; i < 4; i++ {
		intents = append(intents, Intent{VariantID: fmt.Sprintf("v%d", i), JobFingerprint: fmt.Sprintf("j%d", i), Platform: "indeed"})
	}
	res, _ = s.Plan(context.Background(), intents, Constraints{}, monday)
	tue := res.Schedule["2026-03-03"]
	if len(tue.Morning) != 3 || len(tue.Afternoon) != 1 {
		t.Errorf("tuesday = %d morning / %d afternoon, want 3/1", len(tue.Morning), len(tue.Afternoon))
	}
}

func roundTo6(v float64) float64 {
	return float64(int64(v*1e6+0.5)) / 1e6
}

func TestDropReasons(t *testing.T) {
	s := New(defaults(), nil, nil)
	tests := []struct {
		name    string
		intents []Intent
		c       Constraints
		want    string
	}{
		{
			"company cap",
			[]Intent{{VariantID: "a", Platform: "indeed", Company: "acme"}, {VariantID: "b", Platform: "indeed", Company: "acme"}},
			Constraints{MaxPerCompanyPerDay: 1, WindowDays: 1},
			ReasonCompanyCap,
		},
		{
			"platform cap",
			[]Intent{{VariantID: "a", Platform: "indeed"}, {VariantID: "b", Platform: "indeed"}},
			Constraints{MaxPerPlatformPerDay: 1, WindowDays: 1},
			ReasonPlatformCap,
		},
		{
			"day cap",
			[]Intent{{VariantID: "a", Platform: "indeed"}, {VariantID: "b", Platform: "linkedin"}},
			Constraints{MaxPerDay: 1, WindowDays: 1},
			ReasonDayCap,
		},
		{
			"ineligible platform",
			[]Intent{{VariantID: "a", Platform: "monster"}},
			Constraints{Platforms: []string{"linkedin"}},
			ReasonPlatformIneligible,
		},
		{
			"listed platform at cap",
			[]Intent{{VariantID: "a", Platform: "LinkedIn"}, {VariantID: "b", Platform: "linkedin"}},
			Constraints{Platforms: []string{"linkedin"}, MaxPerPlatformPerDay: 1, WindowDays: 1},
			ReasonPlatformCap,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.Plan(context.Background(), tt.intents, tt.c, monday)
			if err != nil {
				t.Fatal(err)
			}
			if len(res.Dropped) != 1 || res.Dropped[0].Reason != tt.want {
				t.Errorf("dropped = %+v, want one %s", res.Dropped, tt.want)
			}
		})
	}

	var many []Intent
	for i := 0; i < 11; i++ {
		many = append(many, Intent{VariantID: fmt.Sprintf("v%d", i), Platform: []string{"indeed", "linkedin", "monster"}[i%3]})
	}
	res, _ := s.Plan(context.Background(), many, Constraints{WindowDays: 1}, monday)
	if len(res.Dropped) != 1 || res.Dropped[0].Reason != ReasonWindowExhausted {
		t.Errorf("dropped = %+v, want one window_exhausted", res.Dropped)
	}
}

func TestPlanRejectsIntentWithoutPlatform(t *testing.T) {
	_, err := New(defaults(), nil, nil).Plan(context.Background(), []Intent{{VariantID: "a"}}, Constraints{}, monday)
	if errors.HTTPStatus(err) != 400 {
		t.Errorf("error = %v, want validation", err)
	}
}

func TestScenarioFollowUp(t *testing.T) {
	tuesday := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	fu := PlanFollowUp(Intent{VariantID: "v", Platform: "linkedin", SuccessProbability: 0.85}, tuesday)
	if fu.Class != ClassImmediate || fu.Purpose != "thank_you_follow_up" {
		t.Errorf("follow-up = %+v, want immediate thank_you_follow_up", fu)
	}
	if want := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC); !fu.Date.Equal(want) {
		t.Errorf("date = %v, want %v", fu.Date, want)
	}
}

func TestFollowUpClassesAndDates(t *testing.T) {
	tests := []struct {
		platform string
		p        float64
		class    string
	}{
		{"linkedin", 0.8, ClassImmediate},
		{"indeed", 0.9, ClassShortTerm},
		{"linkedin", 0.75, ClassShortTerm},
		{"glassdoor", 0.6, ClassMediumTerm},
		{"monster", 0.2, ClassLongTerm},
	}
	for _, tt := range tests {
		if got := ClassifyFollowUp(tt.platform, tt.p); got != tt.class {
			t.Errorf("ClassifyFollowUp(%s, %v) = %s, want %s", tt.platform, tt.p, got, tt.class)
		}
	}

	dates := []struct {
		from time.Time
		n    int
		want time.Time
	}{
		{time.Date(2026, 3, 5, 14, 0, 0, 0, time.UTC), 2, time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)},
		{time.Date(2026, 3, 6, 9, 0, 0, 0, time.UTC), 2, time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)},
		{time.Date(2026, 3, 7, 9, 0, 0, 0, time.UTC), 2, time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)},
		{time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), 16, time.Date(2026, 3, 24, 10, 0, 0, 0, time.UTC)},
	}
	for _, d := range dates {
		got := FollowUpDate(d.from, d.n)
		if !got.Equal(d.want) {
			t.Errorf("FollowUpDate(%v, %d) = %v, want %v", d.from, d.n, got, d.want)
		}
		if got.Weekday() == time.Saturday || got.Weekday() == time.Sunday {
			t.Errorf("follow-up on a weekend: %v", got)
		}
	}
}

func TestSweeperMarksDueFollowUps(t *testing.T) {
	s, err := store.Open(t.TempDir(), errors.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	past, future := now.Add(-time.Hour), now.Add(time.Hour)
	apps := store.NewCollection[models.Application](s, store.ApplicationsFile)
	for _, a := range []models.Application{
		{ID: "due", FollowUpAt: &past},
		{ID: "later", FollowUpAt: &future},
		{ID: "none"},
		{ID: "offered", FollowUpAt: &past, OfferReceived: true},
	} {
		if err := apps.Put(a.ID, a); err != nil {
			t.Fatal(err)
		}
	}

	sw := NewSweeper(s, "@every 1h", errors.NewNop())
	sw.now = func() time.Time { return now }
	n, err := sw.Sweep()
	if err != nil || n != 1 {
		t.Fatalf("Sweep() = %d, %v, want 1", n, err)
	}
	got, _, _ := apps.Get("due")
	if !got.FollowUpDue {
		t.Error("due application not marked")
	}
	if n, _ := sw.Sweep(); n != 0 {
		t.Errorf("second sweep marked %d", n)
	}

	if err := sw.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	sw.Stop()

	if err := NewSweeper(s, "every tuesday", nil).Start(context.Background()); err == nil {
		t.Error("invalid cron spec accepted")
	}
}
