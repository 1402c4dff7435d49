// Package scheduler places application intents into weekday time slots under
// daily, platform and company caps, and plans follow-ups for placed ones.
package scheduler

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"jobpilot/internal/config"
	"jobpilot/internal/errors"
	"jobpilot/internal/observability"
)

// Slot names.
const (
	Morning   = "morning"
	Afternoon = "afternoon"
)

// Drop reasons.
const (
	ReasonDayCap          = "day_cap"
	ReasonPlatformCap     = "platform_cap"
	ReasonCompanyCap      = "company_cap"
	ReasonWindowExhausted = "window_exhausted"

	// ReasonPlatformIneligible marks a platform outside Constraints.Platforms.
	ReasonPlatformIneligible = "platform_ineligible"
)

// SlotCapacity is the number of intents a single slot can hold.
const SlotCapacity = 5

const (
	busySlotThreshold = 3
	busySlotPenalty   = 0.95
	fridayPenalty     = 0.9
	morningHour       = 9
	afternoonHour     = 14
)

var slotQuality = map[time.Weekday][2]float64{
	time.Monday:    {0.85, 0.75},
	time.Tuesday:   {0.95, 0.92},
	time.Wednesday: {0.88, 0.82},
	time.Thursday:  {0.78, 0.75},
	time.Friday:    {0.65, 0.55},
}

var platformEfficiency = map[string]float64{
	"linkedin":  0.92,
	"indeed":    0.89,
	"glassdoor": 0.85,
	"monster":   0.87,
}

const otherPlatformEfficiency = 0.80

// PlatformEfficiency returns the fixed efficiency multiplier of a platform.
func PlatformEfficiency(platform string) float64 {
	if e, ok := platformEfficiency[strings.ToLower(platform)]; ok {
		return e
	}
	return otherPlatformEfficiency
}

// SlotQuality returns the base quality of a weekday slot, or 0 on weekends.
func SlotQuality(day time.Weekday, slot string) float64 {
	q, ok := slotQuality[day]
	if !ok {
		return 0
	}
	if slot == Afternoon {
		return q[1]
	}
	return q[0]
}

// PriorityBonus is the relative score bonus of an intent's priority.
func PriorityBonus(priority float64) float64 {
	switch {
	case priority >= 0.8:
		return 0.15
	case priority >= 0.6:
		return 0.05
	default:
		return 0
	}
}

// Intent is one application waiting to be scheduled.
type Intent struct {
	VariantID      string  `json:"variant_id"`
	JobFingerprint string  `json:"job_fingerprint"`
	Platform       string  `json:"platform"`
	Company        string  `json:"company,omitempty"`
	Priority       float64 `json:"priority,omitempty"`

	// SuccessProbability drives the follow-up classifier; Priority is used when unset.
	SuccessProbability float64 `json:"success_probability,omitempty"`
}

func (i Intent) probability() float64 {
	if i.SuccessProbability > 0 {
		return i.SuccessProbability
	}
	return i.Priority
}

// Constraints bound a scheduling run.
type Constraints struct {
	MaxPerDay            int      `json:"max_per_day"`
	MaxPerPlatformPerDay int      `json:"max_per_platform_per_day"`
	MaxPerCompanyPerDay  int      `json:"max_per_company_per_day"`
	Platforms            []string `json:"platforms,omitempty"`
	WindowDays           int      `json:"window_days"`
}

// DefaultConstraints returns the configured caps.
func DefaultConstraints(cfg config.SchedulerConfig) Constraints {
	return Constraints{
		MaxPerDay:            cfg.MaxPerDay,
		MaxPerPlatformPerDay: cfg.MaxPerPlatformPerDay,
		MaxPerCompanyPerDay:  cfg.MaxPerCompanyPerDay,
		Platforms:            cfg.Platforms,
		WindowDays:           cfg.WindowDays,
	}
}

// withDefaults fills unset caps from d.
func (c Constraints) withDefaults(d Constraints) Constraints {
	if c.MaxPerDay <= 0 {
		c.MaxPerDay = d.MaxPerDay
	}
	if c.MaxPerPlatformPerDay <= 0 {
		c.MaxPerPlatformPerDay = d.MaxPerPlatformPerDay
	}
	if c.MaxPerCompanyPerDay <= 0 {
		c.MaxPerCompanyPerDay = d.MaxPerCompanyPerDay
	}
	if c.WindowDays <= 0 {
		c.WindowDays = d.WindowDays
	}
	if len(c.Platforms) == 0 {
		c.Platforms = d.Platforms
	}
	return c
}

// Placement is a scheduled intent.
type Placement struct {
	Intent
	Day    string    `json:"day"`
	Slot   string    `json:"slot"`
	SendAt time.Time `json:"send_at"`
	Score  float64   `json:"score"`
}

// DaySchedule holds the placements of one date.
type DaySchedule struct {
	Weekday   string      `json:"weekday"`
	Morning   []Placement `json:"morning"`
	Afternoon []Placement `json:"afternoon"`
}

// Dropped is an intent that could not be placed.
type Dropped struct {
	Intent
	Reason string `json:"reason"`
}

// Metrics summarize a schedule.
type Metrics struct {
	Placed          int                `json:"placed"`
	Dropped         int                `json:"dropped"`
	PlatformBalance map[string]float64 `json:"platform_balance"`
	Utilization     float64            `json:"time_slot_utilization"`
	AverageQuality  float64            `json:"average_quality"`
}

// Result is the output of one scheduling run. Schedule is keyed by date
// (YYYY-MM-DD) and Days lists the window's dates in order.
type Result struct {
	Schedule  map[string]*DaySchedule `json:"schedule"`
	Days      []string                `json:"days"`
	Dropped   []Dropped               `json:"dropped"`
	Metrics   Metrics                 `json:"metrics"`
	FollowUps []FollowUp              `json:"follow_ups"`
}

// Placements returns every placement in chronological order.
func (r Result) Placements() []Placement {
	var out []Placement
	for _, d := range r.Days {
		ds := r.Schedule[d]
		out = append(out, ds.Morning...)
		out = append(out, ds.Afternoon...)
	}
	return out
}

// Scheduler builds application plans.
type Scheduler struct {
	defaults Constraints
	om       *observability.ObservabilityManager
	logger   *errors.Logger
}

// New returns a Scheduler using defaults for unset constraints.
func New(defaults Constraints, om *observability.ObservabilityManager, logger *errors.Logger) *Scheduler {
	if logger == nil {
		logger = errors.NewNop()
	}
	return &Scheduler{defaults: defaults, om: om, logger: logger}
}

type slot struct {
	date    time.Time
	key     string
	name    string
	quality float64
	placed  []Placement
}

type dayState struct {
	total     int
	platforms map[string]int
	companies map[string]int
}

// Plan places intents into the weekday window starting at start. Every intent
// ends up either in the schedule or in the dropped list.
func (s *Scheduler) Plan(ctx context.Context, intents []Intent, constraints Constraints, start time.Time) (Result, error) {
	c := constraints.withDefaults(s.defaults)
	if c.MaxPerDay <= 0 || c.MaxPerPlatformPerDay <= 0 || c.MaxPerCompanyPerDay <= 0 || c.WindowDays <= 0 {
		return Result{}, errors.NewValidationError(errors.ErrCodeInvalidRequest, "scheduler caps and window must be positive", nil)
	}
	for _, in := range intents {
		if strings.TrimSpace(in.Platform) == "" {
			return Result{}, errors.NewValidationError(errors.ErrCodeMissingField, "every intent needs a platform", nil).
				WithContext("job_fingerprint", in.JobFingerprint)
		}
	}

	eligible := map[string]bool{}
	for _, p := range c.Platforms {
		eligible[strings.ToLower(p)] = true
	}

	days := windowDays(start, c.WindowDays)
	slots := make([]*slot, 0, 2*len(days))
	states := make(map[string]*dayState, len(days))
	result := Result{Schedule: map[string]*DaySchedule{}, Dropped: []Dropped{}, FollowUps: []FollowUp{}}
	for _, d := range days {
		key := d.Format(time.DateOnly)
		result.Days = append(result.Days, key)
		result.Schedule[key] = &DaySchedule{Weekday: strings.ToLower(d.Weekday().String()), Morning: []Placement{}, Afternoon: []Placement{}}
		states[key] = &dayState{platforms: map[string]int{}, companies: map[string]int{}}
		slots = append(slots,
			&slot{date: d, key: key, name: Morning, quality: SlotQuality(d.Weekday(), Morning)},
			&slot{date: d, key: key, name: Afternoon, quality: SlotQuality(d.Weekday(), Afternoon)})
	}

	ordered := append([]Intent(nil), intents...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.JobFingerprint != b.JobFingerprint {
			return a.JobFingerprint < b.JobFingerprint
		}
		if a.VariantID != b.VariantID {
			return a.VariantID < b.VariantID
		}
		return a.Platform < b.Platform
	})

	for _, in := range ordered {
		platform := strings.ToLower(in.Platform)
		company := strings.ToLower(strings.TrimSpace(in.Company))
		if len(eligible) > 0 && !eligible[platform] {
			result.Dropped = append(result.Dropped, Dropped{Intent: in, Reason: ReasonPlatformIneligible})
			s.om.GetMetrics().RecordPipelineMetric(ctx, "schedule_dropped", 1, s.om, attribute.String("reason", ReasonPlatformIneligible))
			continue
		}

		var best *slot
		bestScore := 0.0
		blocked := map[string]int{}
		for _, sl := range slots {
			st := states[sl.key]
			switch {
			case st.total >= c.MaxPerDay:
				blocked[ReasonDayCap]++
				continue
			case len(sl.placed) >= SlotCapacity:
				blocked[ReasonWindowExhausted]++
				continue
			case st.platforms[platform] >= c.MaxPerPlatformPerDay:
				blocked[ReasonPlatformCap]++
				continue
			case company != "" && st.companies[company] >= c.MaxPerCompanyPerDay:
				blocked[ReasonCompanyCap]++
				continue
			}
			score := slotScore(sl, platform, in.Priority)
			if best == nil || score > bestScore {
				best, bestScore = sl, score
			}
		}

		if best == nil {
			reason := dropReason(blocked, len(slots))
			result.Dropped = append(result.Dropped, Dropped{Intent: in, Reason: reason})
			s.om.GetMetrics().RecordPipelineMetric(ctx, "schedule_dropped", 1, s.om, attribute.String("reason", reason))
			continue
		}

		hour := morningHour
		if best.name == Afternoon {
			hour = afternoonHour
		}
		p := Placement{
			Intent: in,
			Day:    best.key,
			Slot:   best.name,
			SendAt: time.Date(best.date.Year(), best.date.Month(), best.date.Day(), hour, 0, 0, 0, best.date.Location()),
			Score:  math.Round(bestScore*1e6) / 1e6,
		}
		best.placed = append(best.placed, p)
		st := states[best.key]
		st.total++
		st.platforms[platform]++
		if company != "" {
			st.companies[company]++
		}
	}

	for _, sl := range slots {
		ds := result.Schedule[sl.key]
		if sl.name == Morning {
			ds.Morning = append(ds.Morning, sl.placed...)
		} else {
			ds.Afternoon = append(ds.Afternoon, sl.placed...)
		}
	}

	placements := result.Placements()
	result.Metrics = computeMetrics(placements, len(result.Dropped), len(slots))
	for _, p := range placements {
		result.FollowUps = append(result.FollowUps, PlanFollowUp(p.Intent, p.SendAt))
	}

	s.logger.Info("Application schedule planned", "intents", len(intents), "placed", len(placements),
		"dropped", len(result.Dropped), "days", len(days))
	return result, nil
}

func slotScore(sl *slot, platform string, priority float64) float64 {
	score := sl.quality * PlatformEfficiency(platform) * (1 + PriorityBonus(priority))
	if len(sl.placed) >= busySlotThreshold {
		score *= busySlotPenalty
	}
	if sl.date.Weekday() == time.Friday {
		score *= fridayPenalty
	}
	return score
}

// dropReason names the cap that blocked an intent. Slots open by day and
// capacity but closed by a single cap report that cap; anything else means
// the window ran out.
func dropReason(blocked map[string]int, slots int) string {
	if blocked[ReasonDayCap] == slots {
		return ReasonDayCap
	}
	open := slots - blocked[ReasonDayCap] - blocked[ReasonWindowExhausted]
	switch {
	case open > 0 && blocked[ReasonPlatformCap] == open:
		return ReasonPlatformCap
	case open > 0 && blocked[ReasonCompanyCap] == open:
		return ReasonCompanyCap
	case open > 0 && blocked[ReasonPlatformCap] > 0:
		return ReasonPlatformCap
	case open > 0 && blocked[ReasonCompanyCap] > 0:
		return ReasonCompanyCap
	default:
		return ReasonWindowExhausted
	}
}

func computeMetrics(placements []Placement, dropped, slots int) Metrics {
	m := Metrics{Placed: len(placements), Dropped: dropped, PlatformBalance: map[string]float64{}}
	if len(placements) == 0 {
		return m
	}
	counts := map[string]int{}
	sum := 0.0
	for _, p := range placements {
		counts[strings.ToLower(p.Platform)]++
		sum += p.Score
	}
	for platform, n := range counts {
		m.PlatformBalance[platform] = math.Round(float64(n)/float64(len(placements))*1e4) / 1e4
	}
	m.Utilization = math.Round(float64(len(placements))/float64(slots*SlotCapacity)*1e4) / 1e4
	m.AverageQuality = math.Round(sum/float64(len(placements))*1e4) / 1e4
	return m
}

// windowDays returns n weekdays starting at the first weekday on or after start.
func windowDays(start time.Time, n int) []time.Time {
	d := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	out := make([]time.Time, 0, n)
	for len(out) < n {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			out = append(out, d)
		}
		d = d.AddDate(0, 0, 1)
	}
	return out
}
