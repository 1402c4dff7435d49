package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"jobpilot/internal/models"
	"jobpilot/internal/resilience"
)

// DefaultBoards are the job boards scraped when no scrape URLs are configured.
// {keywords} and {location} are replaced with the escaped query values.
var DefaultBoards = []string{
	"https://www.linkedin.com/jobs/search?keywords={keywords}&location={location}",
	"https://ch.indeed.com/jobs?q={keywords}&l={location}",
	"https://www.glassdoor.com/Job/jobs.htm?sc.keyword={keywords}&locKeyword={location}",
}

// FirecrawlAdapter scrapes one job board through the Firecrawl scrape API
// and extracts postings from the returned markdown.
type FirecrawlAdapter struct {
	name        string
	source      string
	urlTemplate string
	apiKey      string
	endpoint    string
	client      *http.Client
	now         func() time.Time
}

// NewFirecrawlAdapter returns an adapter for the board URL template.
func NewFirecrawlAdapter(apiKey, endpoint, urlTemplate string) *FirecrawlAdapter {
	if endpoint == "" {
		endpoint = "https://api.firecrawl.dev/v1/scrape"
	}
	source, host := boardSource(urlTemplate)
	return &FirecrawlAdapter{
		name:        "firecrawl-" + host,
		source:      source,
		urlTemplate: urlTemplate,
		apiKey:      apiKey,
		endpoint:    endpoint,
		client:      &http.Client{},
		now:         time.Now,
	}
}

func (f *FirecrawlAdapter) Name() string { return f.name }

// boardSource maps a board URL to a source tag and its host.
func boardSource(tmpl string) (string, string) {
	host := tmpl
	if u, err := url.Parse(strings.NewReplacer("{keywords}", "", "{location}", "").Replace(tmpl)); err == nil && u.Host != "" {
		host = u.Host
	}
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	for _, s := range []string{models.SourceLinkedIn, models.SourceIndeed, models.SourceGlassdoor} {
		if strings.Contains(host, s) {
			return s, host
		}
	}
	return models.SourceScrape, host
}

// BoardURL fills the template with the query.
func (f *FirecrawlAdapter) BoardURL(q Query) string {
	return strings.NewReplacer(
		"{keywords}", url.QueryEscape(q.Keywords),
		"{location}", url.QueryEscape(q.Location),
	).Replace(f.urlTemplate)
}

type firecrawlRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats"`
	OnlyMainContent bool     `json:"onlyMainContent"`
}

type firecrawlResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		Markdown string `json:"markdown"`
	} `json:"data"`
}

// Search scrapes the board page and extracts its postings.
func (f *FirecrawlAdapter) Search(ctx context.Context, q Query) ([]models.RawJob, error) {
	if f.apiKey == "" {
		return nil, fmt.Errorf("firecrawl api key not configured")
	}
	body, err := json.Marshal(firecrawlRequest{URL: f.BoardURL(q), Formats: []string{"markdown"}, OnlyMainContent: true})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+f.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &resilience.StatusError{Provider: "firecrawl", Code: resp.StatusCode, Body: string(snippet)}
	}
	var parsed firecrawlResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode firecrawl response: %w", err)
	}
	if !parsed.Success {
		return nil, fmt.Errorf("firecrawl scrape failed: %s", parsed.Error)
	}

	jobs := ExtractPostings(parsed.Data.Markdown, f.source, f.now().UTC())
	if q.Limit > 0 && len(jobs) > q.Limit {
		jobs = jobs[:q.Limit]
	}
	return jobs, nil
}

var (
	headingRe  = regexp.MustCompile(`^#{2,4}\s+(.+)$`)
	listLinkRe = regexp.MustCompile(`^[-*]\s+\[([^\]]+)\]\(([^)\s]+)\)`)
	linkRe     = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
	labelRe    = regexp.MustCompile(`(?i)^\**\s*(company|employer|location|salary|url|link)\s*(?:\*\*)?\s*:\s*(?:\*\*)?\s*(.+)$`)
	amountRe   = regexp.MustCompile(`(\d[\d,'.]*)\s*([kK])?`)
)

// ExtractPostings reads job postings out of a scraped markdown page. A
// posting starts at a level 2-4 heading or a list item holding a link; the
// lines below it carry labelled fields (Company:, Location:, Salary:) or,
// unlabelled, the company, then the location, then the description.
func ExtractPostings(markdown, source string, fetched time.Time) []models.RawJob {
	var (
		jobs []models.RawJob
		cur  *models.RawJob
		desc []string
	)
	flush := func() {
		if cur == nil {
			return
		}
		cur.Description = strings.Join(desc, " ")
		if cur.Title != "" && (cur.Company != "" || cur.Description != "") {
			jobs = append(jobs, *cur)
		}
		cur, desc = nil, nil
	}

	for _, raw := range strings.Split(markdown, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if m := headingRe.FindStringSubmatch(line); m != nil {
			flush()
			title, link := stripLink(m[1])
			cur = &models.RawJob{Source: source, Title: title, URL: link, FetchedAt: fetched}
			continue
		}
		if m := listLinkRe.FindStringSubmatch(line); m != nil {
			flush()
			cur = &models.RawJob{Source: source, Title: strings.TrimSpace(m[1]), URL: m[2], FetchedAt: fetched}
			continue
		}
		if cur == nil {
			continue
		}

		text, link := stripLink(strings.TrimLeft(line, "-* "))
		if m := labelRe.FindStringSubmatch(text); m != nil {
			value := strings.TrimSpace(strings.Trim(m[2], "* "))
			switch strings.ToLower(m[1]) {
			case "company", "employer":
				cur.Company = value
			case "location":
				cur.Location = value
			case "salary":
				cur.SalaryMin, cur.SalaryMax = parseSalary(value)
			case "url", "link":
				if link != "" {
					cur.URL = link
				} else {
					cur.URL = value
				}
			}
			continue
		}
		switch {
		case cur.Company == "" && len(desc) == 0 && isShortField(text):
			cur.Company = text
		case cur.Location == "" && len(desc) == 0 && isShortField(text):
			cur.Location = text
		default:
			desc = append(desc, text)
		}
	}
	flush()
	return jobs
}

func stripLink(s string) (string, string) {
	m := linkRe.FindStringSubmatch(s)
	if m == nil {
		return strings.TrimSpace(strings.Trim(s, "*")), ""
	}
	return strings.TrimSpace(linkRe.ReplaceAllString(s, "$1")), m[2]
}

func isShortField(s string) bool {
	return len(s) <= 60 && !strings.HasSuffix(s, ".")
}

func parseSalary(s string) (float64, float64) {
	var vals []float64
	for _, m := range amountRe.FindAllStringSubmatch(s, 2) {
		digits := strings.NewReplacer(",", "", "'", "").Replace(m[1])
		v, err := strconv.ParseFloat(strings.TrimSuffix(digits, "."), 64)
		if err != nil {
			continue
		}
		if m[2] != "" {
			v *= 1000
		}
		vals = append(vals, v)
	}
	switch len(vals) {
	case 0:
		return 0, 0
	case 1:
		return vals[0], vals[0]
	default:
		return vals[0], vals[1]
	}
}
