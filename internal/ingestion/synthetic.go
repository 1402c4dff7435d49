package ingestion

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"strings"
	"time"

	"jobpilot/internal/models"
)

var (
	syntheticCompanies = []string{
		"Alpine Analytics", "Helvetia Digital", "Lakeside Systems", "Northbridge Consulting",
		"Matterhorn Data", "Rhine Valley Tech", "Summit Financial", "Glacier Labs",
		"Aare Partners", "Jura Software",
	}
	syntheticRoles = []string{"Specialist", "Analyst", "Consultant", "Engineer", "Manager"}
	syntheticPerks = []string{
		"hybrid working", "a learning budget", "flexible hours", "an international team",
		"a modern data platform", "clear growth paths",
	}
	bandPrefixes = map[string]string{
		"entry":     "Junior",
		"junior":    "Junior",
		"mid":       "",
		"senior":    "Senior",
		"lead":      "Lead",
		"executive": "Head of",
	}
	bandYears = map[string]string{
		"entry":     "0-1 years",
		"junior":    "1-3 years",
		"mid":       "3+ years",
		"senior":    "5+ years",
		"lead":      "8+ years",
		"executive": "12+ years",
	}
)

const defaultSyntheticLocation = "Zurich"

// SyntheticAdapter produces plausible postings seeded from the query. The
// same query always yields the same postings.
type SyntheticAdapter struct {
	count int
	now   func() time.Time
}

// NewSyntheticAdapter returns an adapter producing count postings per call.
func NewSyntheticAdapter(count int) *SyntheticAdapter {
	if count <= 0 {
		count = 5
	}
	return &SyntheticAdapter{count: count, now: time.Now}
}

func (s *SyntheticAdapter) Name() string { return models.SourceSynthetic }

func querySeed(q Query) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(models.NormalizeText(q.Keywords) + "|" + models.NormalizeText(q.Location) + "|" + strings.ToLower(q.ExperienceBand)))
	return h.Sum64()
}

// Search returns count synthetic postings with distinct fingerprints.
func (s *SyntheticAdapter) Search(ctx context.Context, q Query) ([]models.RawJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seed := querySeed(q)
	rng := rand.New(rand.NewPCG(seed, seed>>1|1))

	keywords := models.CollapseSpace(q.Keywords)
	if keywords == "" {
		keywords = "Business Analyst"
	}
	location := models.CollapseSpace(q.Location)
	if location == "" {
		location = defaultSyntheticLocation
	}
	band := strings.ToLower(q.ExperienceBand)
	years, ok := bandYears[band]
	if !ok {
		years = "3+ years"
	}

	fetched := s.now().UTC()
	companies := rng.Perm(len(syntheticCompanies))
	jobs := make([]models.RawJob, 0, s.count)
	for i := 0; i < s.count; i++ {
		company := syntheticCompanies[companies[i%len(companies)]]
		if i >= len(companies) {
			company = fmt.Sprintf("%s %d", company, i/len(companies)+1)
		}
		role := syntheticRoles[rng.IntN(len(syntheticRoles))]
		title := strings.TrimSpace(bandPrefixes[band] + " " + keywords + " " + role)
		perk := syntheticPerks[rng.IntN(len(syntheticPerks))]
		base := 90000 + 5000*rng.IntN(9)

		jobs = append(jobs, models.RawJob{
			Source:   models.SourceSynthetic,
			Title:    title,
			Company:  company,
			Location: location,
			Description: fmt.Sprintf(
				"%s is hiring a %s in %s. You bring %s of experience in %s and work with stakeholders across the business. We offer %s.",
				company, title, location, years, keywords, perk),
			SalaryMin: float64(base),
			SalaryMax: float64(base + 30000),
			FetchedAt: fetched,
		})
	}
	return jobs, nil
}
