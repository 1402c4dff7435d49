package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"jobpilot/internal/errors"
	"jobpilot/internal/models"
	"jobpilot/internal/store"
)

// Follow-up classes and their purposes.
const (
	ClassImmediate  = "immediate"
	ClassShortTerm  = "short_term"
	ClassMediumTerm = "medium_term"
	ClassLongTerm   = "long_term"
)

var followUpRules = map[string]struct {
	businessDays int
	purpose      string
}{
	ClassImmediate:  {2, "thank_you_follow_up"},
	ClassShortTerm:  {7, "reference_request"},
	ClassMediumTerm: {12, "position_inquiry"},
	ClassLongTerm:   {16, "final_follow_up"},
}

const followUpHour = 10

// FollowUp is the suggested follow-up of a scheduled application.
type FollowUp struct {
	VariantID      string    `json:"variant_id"`
	JobFingerprint string    `json:"job_fingerprint"`
	Platform       string    `json:"platform"`
	Class          string    `json:"class"`
	Purpose        string    `json:"purpose"`
	BusinessDays   int       `json:"business_days"`
	Date           time.Time `json:"date"`
}

// ClassifyFollowUp picks the follow-up class from platform and success probability.
func ClassifyFollowUp(platform string, probability float64) string {
	switch {
	case probability >= 0.8 && strings.EqualFold(platform, "linkedin"):
		return ClassImmediate
	case probability >= 0.7:
		return ClassShortTerm
	case probability >= 0.6:
		return ClassMediumTerm
	default:
		return ClassLongTerm
	}
}

// PlanFollowUp computes the follow-up for an intent sent at sendAt.
func PlanFollowUp(in Intent, sendAt time.Time) FollowUp {
	class := ClassifyFollowUp(in.Platform, in.probability())
	rule := followUpRules[class]
	return FollowUp{
		VariantID:      in.VariantID,
		JobFingerprint: in.JobFingerprint,
		Platform:       in.Platform,
		Class:          class,
		Purpose:        rule.purpose,
		BusinessDays:   rule.businessDays,
		Date:           FollowUpDate(sendAt, rule.businessDays),
	}
}

// FollowUpDate adds n business days to from and sets the time to 10:00.
// A weekend start counts from the following Monday.
func FollowUpDate(from time.Time, n int) time.Time {
	d := time.Date(from.Year(), from.Month(), from.Day(), followUpHour, 0, 0, 0, from.Location())
	for added := 0; added < n; {
		d = d.AddDate(0, 0, 1)
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			added++
		}
	}
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

var errNothingDue = stderrors.New("no follow-ups due")

// Sweeper periodically marks applications whose follow-up date has passed.
type Sweeper struct {
	cron         *cron.Cron
	spec         string
	applications *store.Collection[models.Application]
	logger       *errors.Logger
	now          func() time.Time

	mu      sync.Mutex
	running bool
}

// NewSweeper returns a sweeper firing on the cron spec, e.g. "@every 1h".
func NewSweeper(s *store.Store, spec string, logger *errors.Logger) *Sweeper {
	if logger == nil {
		logger = errors.NewNop()
	}
	return &Sweeper{
		cron:         cron.New(),
		spec:         spec,
		applications: store.NewCollection[models.Application](s, store.ApplicationsFile),
		logger:       logger,
		now:          time.Now,
	}
}

// Start registers the sweep and starts the cron loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if _, err := s.cron.AddFunc(s.spec, func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.Sweep(); err != nil {
			s.logger.LogError(err, "Follow-up sweep failed")
		}
	}); err != nil {
		return errors.NewConfigError(errors.ErrCodeInvalidConfig, fmt.Sprintf("invalid follow-up sweep spec %q", s.spec), err)
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("Follow-up sweep started", "spec", s.spec)
	return nil
}

// Stop stops the cron loop and waits for a running sweep.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("Follow-up sweep stopped")
}

// Sweep sets follow_up_due on applications whose follow-up date has passed
// and returns how many were marked.
func (s *Sweeper) Sweep() (int, error) {
	now := s.now()
	marked := 0
	err := s.applications.Update(func(records map[string]models.Application) error {
		marked = 0
		for id, app := range records {
			if app.FollowUpDue || app.FollowUpAt == nil || app.OfferReceived {
				continue
			}
			if !app.FollowUpAt.After(now) {
				app.FollowUpDue = true
				records[id] = app
				marked++
			}
		}
		if marked == 0 {
			return errNothingDue
		}
		return nil
	})
	if err != nil && err != errNothingDue {
		return 0, err
	}
	if marked > 0 {
		s.logger.Info("Follow-ups due", "count", marked)
	}
	return marked, nil
}
