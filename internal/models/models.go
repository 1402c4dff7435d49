// Package models holds the records shared by every pipeline stage and service.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Seniority levels recognised by the parser and the ranker.
type Seniority string

const (
	SeniorityEntry     Seniority = "entry"
	SeniorityJunior    Seniority = "junior"
	SeniorityMid       Seniority = "mid"
	SenioritySenior    Seniority = "senior"
	SeniorityLead      Seniority = "lead"
	SeniorityExecutive Seniority = "executive"
)

// Seniorities lists the levels from least to most senior.
var Seniorities = []Seniority{
	SeniorityEntry, SeniorityJunior, SeniorityMid, SenioritySenior, SeniorityLead, SeniorityExecutive,
}

// Valid reports whether s is one of the six levels.
func (s Seniority) Valid() bool {
	for _, level := range Seniorities {
		if s == level {
			return true
		}
	}
	return false
}

// Source tags for raw jobs.
const (
	SourceLinkedIn  = "linkedin"
	SourceIndeed    = "indeed"
	SourceGlassdoor = "glassdoor"
	SourceAdzuna    = "adzuna"
	SourceScrape    = "scrape"
	SourceSynthetic = "synthetic"
)

// WorkEntry is one item of a candidate's structured work history.
type WorkEntry struct {
	Role        string `json:"role"`
	Company     string `json:"company"`
	Duration    string `json:"duration,omitempty"`
	Description string `json:"description,omitempty"`
	Start       string `json:"start,omitempty"`
	End         string `json:"end,omitempty"`
}

// CandidateProfile is the input to ranking.
type CandidateProfile struct {
	ID              string      `json:"id"`
	YearsExperience int         `json:"years_experience"`
	Skills          []string    `json:"skills"`
	Location        string      `json:"location"`
	Cities          []string    `json:"cities,omitempty"`
	Country         string      `json:"country,omitempty"`
	TargetRoles     []string    `json:"target_roles,omitempty"`
	WorkHistory     []WorkEntry `json:"work_history,omitempty"`
	Summary         string      `json:"summary,omitempty"`
	Version         int         `json:"version"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Normalize lowercases and de-duplicates skills and fills the city set from
// the free-text location when it is empty.
func (p *CandidateProfile) Normalize() {
	p.Skills = NormalizeTerms(p.Skills)
	if p.YearsExperience < 0 {
		p.YearsExperience = 0
	}
	if len(p.Cities) == 0 && p.Location != "" {
		p.Cities = SplitLocation(p.Location)
	} else {
		p.Cities = NormalizeTerms(p.Cities)
	}
	p.Country = NormalizeText(p.Country)
}

// RawJob is a posting as returned by a source adapter. Any field may be empty.
type RawJob struct {
	Source      string    `json:"source"`
	Title       string    `json:"title"`
	Company     string    `json:"company"`
	Location    string    `json:"location"`
	Description string    `json:"description"`
	SalaryMin   float64   `json:"salary_min,omitempty"`
	SalaryMax   float64   `json:"salary_max,omitempty"`
	URL         string    `json:"url,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// NonEmptyFields counts the populated descriptive fields of r.
func (r RawJob) NonEmptyFields() int {
	n := 0
	for _, f := range []string{r.Title, r.Company, r.Location, r.Description, r.URL} {
		if strings.TrimSpace(f) != "" {
			n++
		}
	}
	if r.SalaryMin > 0 || r.SalaryMax > 0 {
		n++
	}
	return n
}

// Fingerprint returns the stable identity of r.
func (r RawJob) Fingerprint() string {
	return Fingerprint(r.Title, r.Company, r.Location, r.Description)
}

// WeightedTerm is one entry of a keyword vector.
type WeightedTerm struct {
	Term   string  `json:"term"`
	Weight float64 `json:"weight"`
}

// JobRequirements is the parser's view of a job description.
type JobRequirements struct {
	RequiredSkills   []string       `json:"required_skills"`
	NiceToHaveSkills []string       `json:"nice_to_have_skills"`
	Seniority        Seniority      `json:"seniority"`
	Domain           string         `json:"domain"`
	Keywords         []WeightedTerm `json:"keywords"`
	Remote           bool           `json:"remote"`
	Truncated        bool           `json:"truncated,omitempty"`
}

// Job is a deduplicated posting.
type Job struct {
	Fingerprint  string           `json:"fingerprint"`
	Title        string           `json:"title"`
	Company      string           `json:"company"`
	Location     string           `json:"location"`
	Description  string           `json:"description"`
	Requirements *JobRequirements `json:"parsed_requirements,omitempty"`
	Source       string           `json:"source"`
	SourceURL    string           `json:"source_url,omitempty"`
	SalaryMin    float64          `json:"salary_min,omitempty"`
	SalaryMax    float64          `json:"salary_max,omitempty"`
	FetchedAt    time.Time        `json:"fetched_at"`
}

// JobFromRaw builds a Job from a raw posting with whitespace normalized.
func JobFromRaw(r RawJob) Job {
	return Job{
		Fingerprint: r.Fingerprint(),
		Title:       CollapseSpace(r.Title),
		Company:     CollapseSpace(r.Company),
		Location:    CollapseSpace(r.Location),
		Description: strings.TrimSpace(r.Description),
		Source:      r.Source,
		SourceURL:   r.URL,
		SalaryMin:   r.SalaryMin,
		SalaryMax:   r.SalaryMax,
		FetchedAt:   r.FetchedAt,
	}
}

// RankComponents is the per-component breakdown of a ranking.
type RankComponents struct {
	Skills     float64 `json:"skills"`
	Experience float64 `json:"experience"`
	Location   float64 `json:"location"`
	Semantic   float64 `json:"semantic"`
}

// JobRanking is the score of one job for one profile.
type JobRanking struct {
	ProfileID        string         `json:"profile_id"`
	JobFingerprint   string         `json:"job_fingerprint"`
	Score            float64        `json:"score"`
	Components       RankComponents `json:"components"`
	EmbedderVersion  string         `json:"embedder_version"`
	SemanticDegraded bool           `json:"semantic_degraded"`
	ComputedAt       time.Time      `json:"computed_at"`
}

// ExperienceEntry is one role in a CV.
type ExperienceEntry struct {
	Role        string `json:"role"`
	Company     string `json:"company"`
	Duration    string `json:"duration"`
	Description string `json:"description"`
}

// CV is a candidate's authored CV.
type CV struct {
	ID         string            `json:"id"`
	Summary    string            `json:"summary"`
	Skills     []string          `json:"skills"`
	Experience []ExperienceEntry `json:"experience"`
	Education  []string          `json:"education"`
	Misc       map[string]string `json:"misc"`
}

// IsEmpty reports whether the CV carries no content at all.
func (c CV) IsEmpty() bool {
	return strings.TrimSpace(c.Summary) == "" && len(c.Skills) == 0 && len(c.Experience) == 0 &&
		len(c.Education) == 0 && len(c.Misc) == 0
}

// Clone returns a deep copy of c.
func (c CV) Clone() CV {
	out := CV{
		ID:         c.ID,
		Summary:    c.Summary,
		Skills:     append([]string(nil), c.Skills...),
		Experience: append([]ExperienceEntry(nil), c.Experience...),
		Education:  append([]string(nil), c.Education...),
	}
	if c.Misc != nil {
		out.Misc = make(map[string]string, len(c.Misc))
		for k, v := range c.Misc {
			out.Misc[k] = v
		}
	}
	return out
}

// Modification is one entry of a variant's diff against its parent CV.
type Modification struct {
	Section string `json:"section"` // summary, skills, experience
	Index   int    `json:"index"`   // experience entry index, 0 otherwise
	Change  string `json:"change"`  // rewrite, reorder, inject, emphasize
	Before  string `json:"before"`
	After   string `json:"after"`
}

// AdaptKnobs select which modification steps run and how aggressively.
type AdaptKnobs struct {
	RewriteSummary      bool `json:"rewrite_summary"`
	ReorderSkills       bool `json:"reorder_skills"`
	InjectSkills        bool `json:"inject_skills"`
	EmphasizeExperience bool `json:"emphasize_experience"`

	// SummarySkills is the number of overlapping skills named in the summary (K)
	SummarySkills int `json:"summary_skills"`
}

// CVVariant is a derivative CV modified against one job.
type CVVariant struct {
	ID              string         `json:"id"`
	ParentCVID      string         `json:"parent_cv_id"`
	JobFingerprint  string         `json:"job_fingerprint"`
	Knobs           AdaptKnobs     `json:"knobs"`
	Modifications   []Modification `json:"modifications"`
	Content         CV             `json:"content"`
	AlignmentScore  float64        `json:"alignment_score"`
	SkillsAlignment float64        `json:"skills_alignment"`
	CreatedAt       time.Time      `json:"created_at"`
}

// ExperimentStatus is the lifecycle state of an experiment.
type ExperimentStatus string

const (
	ExperimentActive    ExperimentStatus = "active"
	ExperimentCompleted ExperimentStatus = "completed"
	ExperimentAborted   ExperimentStatus = "aborted"
)

// VariantStats are the outcome counters of one variant.
type VariantStats struct {
	VariantID        string  `json:"variant_id"`
	ApplicationsSent int     `json:"applications_sent"`
	Responses        int     `json:"responses"`
	Interviews       int     `json:"interviews"`
	Offers           int     `json:"offers"`
	PerformanceScore float64 `json:"performance_score"`
}

// Experiment is a set of variants competing over real outcomes.
type Experiment struct {
	ID                 string           `json:"id"`
	CandidateID        string           `json:"candidate_id"`
	ParentCVID         string           `json:"parent_cv_id"`
	JobFingerprint     string           `json:"job_fingerprint"`
	VariantIDs         []string         `json:"variant_ids"`
	Stats              []VariantStats   `json:"stats"`
	ApplicationsTarget int              `json:"applications_target"`
	Status             ExperimentStatus `json:"status"`
	Winner             string           `json:"winner,omitempty"`
	Confidence         string           `json:"confidence,omitempty"`
	CompletionReason   string           `json:"completion_reason,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	EndedAt            *time.Time       `json:"ended_at,omitempty"`
}

// StatsFor returns a pointer to the counters of variantID, or nil.
func (e *Experiment) StatsFor(variantID string) *VariantStats {
	for i := range e.Stats {
		if e.Stats[i].VariantID == variantID {
			return &e.Stats[i]
		}
	}
	return nil
}

// Application is one outgoing application and its outcome fields.
type Application struct {
	ID                 string     `json:"id"`
	ExperimentID       string     `json:"experiment_id"`
	VariantID          string     `json:"variant_id"`
	JobFingerprint     string     `json:"job_fingerprint"`
	Platform           string     `json:"platform"`
	Company            string     `json:"company,omitempty"`
	SubmittedAt        time.Time  `json:"submitted_at"`
	ResponseReceived   bool       `json:"response_received"`
	ResponseAt         *time.Time `json:"response_at,omitempty"`
	InterviewScheduled bool       `json:"interview_scheduled"`
	InterviewAt        *time.Time `json:"interview_at,omitempty"`
	OfferReceived      bool       `json:"offer_received"`
	OfferAt            *time.Time `json:"offer_at,omitempty"`
	FollowUpAt         *time.Time `json:"follow_up_at,omitempty"`
	FollowUpDue        bool       `json:"follow_up_due,omitempty"`
}

// OutcomeUpdate is an inbound feedback event for one application.
type OutcomeUpdate struct {
	ResponseReceived   *bool     `json:"response_received,omitempty"`
	InterviewScheduled *bool     `json:"interview_scheduled,omitempty"`
	OfferReceived      *bool     `json:"offer_received,omitempty"`
	At                 time.Time `json:"at"`
}

// Fingerprint hashes the normalized title, company, location and description.
func Fingerprint(title, company, location, description string) string {
	h := sha256.New()
	for i, part := range []string{title, company, location, description} {
		if i > 0 {
			h.Write([]byte{0x1f})
		}
		h.Write([]byte(NormalizeText(part)))
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// CollapseSpace trims s and collapses internal whitespace runs to one space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeText collapses whitespace and lowercases s.
func NormalizeText(s string) string {
	return strings.ToLower(CollapseSpace(s))
}

// NormalizeTerms lowercases, trims and de-duplicates terms keeping first occurrence order.
func NormalizeTerms(terms []string) []string {
	seen := make(map[string]bool, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		n := NormalizeText(t)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// SplitLocation turns free-text location into a normalized city set.
// "Zurich, Switzerland / Remote" yields [zurich switzerland remote].
func SplitLocation(location string) []string {
	parts := strings.FieldsFunc(location, func(r rune) bool {
		return r == ',' || r == '/' || r == ';' || r == '|' || r == '(' || r == ')'
	})
	return NormalizeTerms(parts)
}
