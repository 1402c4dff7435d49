package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"jobpilot/internal/models"
	"jobpilot/internal/resilience"
)

// AdzunaAdapter queries the Adzuna job search API.
type AdzunaAdapter struct {
	AppID    string
	AppKey   string
	Country  string
	Endpoint string
	PerPage  int
	client   *http.Client
	now      func() time.Time
}

// NewAdzunaAdapter returns an adapter for the given credentials.
func NewAdzunaAdapter(appID, appKey, country, endpoint string, perPage int) *AdzunaAdapter {
	if country == "" {
		country = "gb"
	}
	if endpoint == "" {
		endpoint = "https://api.adzuna.com/v1/api/jobs"
	}
	if perPage <= 0 {
		perPage = 20
	}
	return &AdzunaAdapter{
		AppID:    appID,
		AppKey:   appKey,
		Country:  country,
		Endpoint: strings.TrimRight(endpoint, "/"),
		PerPage:  perPage,
		client:   &http.Client{},
		now:      time.Now,
	}
}

func (a *AdzunaAdapter) Name() string { return models.SourceAdzuna }

type adzunaResponse struct {
	Results []adzunaResult `json:"results"`
	Count   int            `json:"count"`
}

type adzunaResult struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	RedirectURL string  `json:"redirect_url"`
	SalaryMin   float64 `json:"salary_min"`
	SalaryMax   float64 `json:"salary_max"`
	Created     string  `json:"created"`
	Company     struct {
		DisplayName string `json:"display_name"`
	} `json:"company"`
	Location struct {
		DisplayName string `json:"display_name"`
	} `json:"location"`
}

// Search fetches one page of results, sized by the query limit.
func (a *AdzunaAdapter) Search(ctx context.Context, q Query) ([]models.RawJob, error) {
	if a.AppID == "" || a.AppKey == "" {
		return nil, fmt.Errorf("adzuna credentials not configured")
	}
	perPage := a.PerPage
	if q.Limit > 0 && q.Limit < perPage {
		perPage = q.Limit
	}

	params := url.Values{}
	params.Set("app_id", a.AppID)
	params.Set("app_key", a.AppKey)
	params.Set("results_per_page", strconv.Itoa(perPage))
	params.Set("what", q.Keywords)
	if q.Location != "" {
		params.Set("where", q.Location)
	}
	params.Set("content-type", "application/json")
	params.Set("sort_by", "date")

	u := fmt.Sprintf("%s/%s/search/1?%s", a.Endpoint, url.PathEscape(a.Country), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &resilience.StatusError{Provider: "adzuna", Code: resp.StatusCode, Body: string(snippet)}
	}

	var parsed adzunaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode adzuna response: %w", err)
	}

	fetched := a.now().UTC()
	jobs := make([]models.RawJob, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		jobs = append(jobs, models.RawJob{
			Source:      models.SourceAdzuna,
			Title:       r.Title,
			Company:     r.Company.DisplayName,
			Location:    r.Location.DisplayName,
			Description: r.Description,
			SalaryMin:   r.SalaryMin,
			SalaryMax:   r.SalaryMax,
			URL:         r.RedirectURL,
			FetchedAt:   fetched,
		})
	}
	return jobs, nil
}
