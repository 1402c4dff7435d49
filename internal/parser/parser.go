// Package parser turns job description text into structured requirements.
//
// Parsing is rule based and deterministic: the same input always yields the
// same requirements, with no clock, randomness or network involved.
package parser

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"jobpilot/internal/config"
	"jobpilot/internal/errors"
	"jobpilot/internal/models"
)

// DomainUnknown is reported when no taxonomy domain scores.
const DomainUnknown = "unknown"

// Options tune truncation and keyword extraction.
type Options struct {
	MaxInputBytes    int
	KeywordMinCount  int
	KeywordMinWeight float64
	MaxKeywords      int
}

// DefaultOptions match the configuration defaults.
func DefaultOptions() Options {
	return Options{MaxInputBytes: 50 * 1024, KeywordMinCount: 2, KeywordMinWeight: 0.01, MaxKeywords: 25}
}

// OptionsFromConfig maps the parser config section.
func OptionsFromConfig(cfg config.ParserConfig) Options {
	opts := DefaultOptions()
	if cfg.MaxInputBytes > 0 {
		opts.MaxInputBytes = cfg.MaxInputBytes
	}
	if cfg.KeywordMinCount > 0 {
		opts.KeywordMinCount = cfg.KeywordMinCount
	}
	if cfg.KeywordMinWeight > 0 {
		opts.KeywordMinWeight = cfg.KeywordMinWeight
	}
	if cfg.MaxKeywords > 0 {
		opts.MaxKeywords = cfg.MaxKeywords
	}
	return opts
}

// Parser extracts JobRequirements. It is safe for concurrent use; the lexicon
// can be swapped at runtime.
type Parser struct {
	opts    Options
	lexicon atomic.Pointer[compiledLexicon]
	logger  *errors.Logger
}

// New returns a parser over lex. A nil lexicon selects the built-in one.
func New(lex *Lexicon, opts Options, logger *errors.Logger) *Parser {
	if lex == nil {
		lex = DefaultLexicon()
	}
	if logger == nil {
		logger = errors.NewNop()
	}
	p := &Parser{opts: opts, logger: logger}
	p.lexicon.Store(compile(lex))
	return p
}

// SetLexicon replaces the active lexicon.
func (p *Parser) SetLexicon(lex *Lexicon) {
	p.lexicon.Store(compile(lex))
	p.logger.Info("Parser lexicon replaced", "version", lex.Version, "skills", len(lex.Skills))
}

// LexiconVersion returns the version tag of the active lexicon.
func (p *Parser) LexiconVersion() string {
	return p.lexicon.Load().version
}

// ParseJob parses a posting, treating the title as the first line.
func (p *Parser) ParseJob(title, description string) models.JobRequirements {
	if strings.TrimSpace(title) == "" {
		return p.Parse(description)
	}
	return p.Parse(title + "\n" + description)
}

// Parse extracts requirements from description.
func (p *Parser) Parse(description string) models.JobRequirements {
	lex := p.lexicon.Load()
	req := models.JobRequirements{
		RequiredSkills:   []string{},
		NiceToHaveSkills: []string{},
		Seniority:        models.SeniorityMid,
		Domain:           DomainUnknown,
		Keywords:         []models.WeightedTerm{},
	}

	if len(description) > p.opts.MaxInputBytes {
		original := len(description)
		description = truncateUTF8(description, p.opts.MaxInputBytes)
		req.Truncated = true
		p.logger.Warn("Job description truncated", "original_bytes", original, "kept_bytes", len(description),
			"excerpt", errors.TruncateForLog(description, errors.LogExcerptRunes))
	}

	text := strings.ToLower(description)
	if strings.TrimSpace(text) == "" {
		return req
	}

	req.RequiredSkills, req.NiceToHaveSkills = extractSkills(text, lex)
	req.Seniority = classifySeniority(text)
	req.Domain = classifyDomain(text, lex)
	req.Keywords = extractKeywords(text, lex, p.opts)
	req.Remote = detectRemote(text)
	return req
}

// truncateUTF8 keeps the head of s, at most limit bytes, on a rune boundary.
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// segment is a sentence of the description with its optionality.
type segment struct {
	text     string
	start    int
	optional bool
}

var niceMarkers = []string{
	"nice to have", "nice-to-have", "bonus", "a plus", "preferred", "desirable", "advantageous",
	"good to have", "would be great", "ideally", "familiarity with",
}

var requiredMarkers = []string{
	"requirement", "required", "must have", "must-have", "qualifications", "what you bring",
	"you have", "you will need", "essential", "responsibilities",
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

func isHeading(line string) bool {
	trimmed := strings.TrimSpace(line)
	if strings.HasSuffix(trimmed, ":") {
		return true
	}
	if strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "*") || strings.HasPrefix(trimmed, "•") {
		return false
	}
	return len(strings.Fields(trimmed)) <= 4 && !strings.ContainsAny(trimmed, ".,;")
}

// segments splits text into sentences. A heading that names optional skills
// ("Nice to have:") marks the following lines optional until a heading names
// required ones again.
func segments(text string) []segment {
	var out []segment
	optionalSection := false
	offset := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		lineStart := offset
		offset += len(line)
		if strings.TrimSpace(line) == "" {
			continue
		}
		if isHeading(line) {
			switch {
			case containsAny(line, niceMarkers):
				optionalSection = true
			case containsAny(line, requiredMarkers):
				optionalSection = false
			}
		}
		start := 0
		for i := 0; i < len(line); i++ {
			c := line[i]
			if c == '.' || c == ';' || c == '!' || c == '?' || c == '\n' {
				if i+1 == len(line) || line[i+1] == ' ' || line[i+1] == '\n' || c == '\n' {
					out = append(out, newSegment(line[start:i+1], lineStart+start, optionalSection))
					start = i + 1
				}
			}
		}
		if start < len(line) {
			out = append(out, newSegment(line[start:], lineStart+start, optionalSection))
		}
	}
	return out
}

func newSegment(s string, start int, optionalSection bool) segment {
	return segment{text: s, start: start, optional: optionalSection || containsAny(s, niceMarkers)}
}

// extractSkills returns required and nice-to-have skills ordered by first
// appearance. A skill seen in any required sentence is required.
func extractSkills(text string, lex *compiledLexicon) (required, nice []string) {
	type hit struct {
		name     string
		first    int
		required bool
	}
	hits := map[string]*hit{}
	for _, seg := range segments(text) {
		for _, skill := range lex.skills {
			pos := -1
			for _, pattern := range skill.patterns {
				if i := indexWord(seg.text, pattern); i >= 0 && (pos < 0 || i < pos) {
					pos = i
				}
			}
			if pos < 0 {
				continue
			}
			h, ok := hits[skill.name]
			if !ok {
				h = &hit{name: skill.name, first: seg.start + pos}
				hits[skill.name] = h
			}
			if !seg.optional {
				h.required = true
			}
		}
	}

	ordered := make([]*hit, 0, len(hits))
	for _, h := range hits {
		ordered = append(ordered, h)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].first != ordered[j].first {
			return ordered[i].first < ordered[j].first
		}
		return ordered[i].name < ordered[j].name
	})

	required, nice = []string{}, []string{}
	for _, h := range ordered {
		if h.required {
			required = append(required, h.name)
		} else {
			nice = append(nice, h.name)
		}
	}
	return required, nice
}

var seniorityPhrases = []struct {
	level   models.Seniority
	phrases []string
}{
	{models.SeniorityExecutive, []string{"chief", "cto", "cio", "cfo", "ceo", "vice president", "vp", "head of", "director", "executive"}},
	{models.SeniorityLead, []string{"lead", "principal", "staff engineer", "architect", "team lead", "tech lead"}},
	{models.SenioritySenior, []string{"senior", "sr", "experienced"}},
	{models.SeniorityMid, []string{"mid-level", "mid level", "intermediate"}},
	{models.SeniorityJunior, []string{"junior", "jr"}},
	{models.SeniorityEntry, []string{"entry level", "entry-level", "graduate", "intern", "internship", "trainee", "apprentice"}},
}

var yearsPattern = regexp.MustCompile(`(\d{1,2})\s*(?:\+|plus)?\s*(?:(?:-|–|to)\s*\d{1,2}\s*)?\+?\s*years?`)

// seniorityForYears maps a required years figure onto a level.
func seniorityForYears(years int) models.Seniority {
	switch {
	case years >= 12:
		return models.SeniorityExecutive
	case years >= 8:
		return models.SeniorityLead
	case years >= 5:
		return models.SenioritySenior
	case years >= 3:
		return models.SeniorityMid
	case years >= 1:
		return models.SeniorityJunior
	default:
		return models.SeniorityEntry
	}
}

// classifySeniority prefers phrases on the first line (the title), then an
// explicit years requirement, then the most frequent phrase level in the body.
func classifySeniority(text string) models.Seniority {
	firstLine := text
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		firstLine = text[:i]
	}
	for _, level := range seniorityPhrases {
		for _, phrase := range level.phrases {
			if indexWord(firstLine, phrase) >= 0 {
				return level.level
			}
		}
	}

	maxYears := -1
	for _, m := range yearsPattern.FindAllStringSubmatch(text, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > maxYears && n <= 40 {
			maxYears = n
		}
	}
	if maxYears >= 0 {
		return seniorityForYears(maxYears)
	}

	best, bestCount := models.SeniorityMid, 0
	for _, level := range seniorityPhrases {
		count := 0
		for _, phrase := range level.phrases {
			count += countWord(text, phrase)
		}
		if count > bestCount {
			best, bestCount = level.level, count
		}
	}
	return best
}

const minDomainHits = 2

// classifyDomain scores each taxonomy domain by keyword density and returns the
// densest one. Ties go to the alphabetically first domain.
func classifyDomain(text string, lex *compiledLexicon) string {
	words := len(strings.Fields(text))
	if words == 0 {
		return DomainUnknown
	}
	best, bestScore := DomainUnknown, 0.0
	for _, d := range lex.domains {
		hits := 0
		for _, term := range d.terms {
			hits += countWord(text, term)
		}
		if hits < minDomainHits {
			continue
		}
		score := float64(hits) / float64(words)
		if score > bestScore {
			best, bestScore = d.name, score
		}
	}
	return best
}

var tokenPattern = regexp.MustCompile(`[a-z0-9][a-z0-9+#./\-]*`)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true, "by": true,
	"for": true, "from": true, "has": true, "have": true, "in": true, "is": true, "it": true, "its": true,
	"of": true, "on": true, "or": true, "our": true, "that": true, "the": true, "their": true, "this": true,
	"to": true, "we": true, "with": true, "you": true, "your": true, "who": true, "what": true, "can": true,
	"all": true, "any": true, "more": true, "other": true, "such": true, "than": true, "into": true,
	"not": true, "but": true, "they": true, "them": true, "were": true, "was": true, "been": true,
	"do": true, "does": true, "if": true, "so": true, "about": true, "over": true, "per": true, "via": true,
}

// extractKeywords weights terms by frequency, discounted by how common they
// are in job text generally. Terms under either threshold are dropped.
func extractKeywords(text string, lex *compiledLexicon, opts Options) []models.WeightedTerm {
	counts := map[string]int{}
	total := 0
	for _, tok := range tokenPattern.FindAllString(text, -1) {
		tok = strings.TrimRight(tok, ".-/")
		if len(tok) < 2 || stopwords[tok] || isNumber(tok) {
			continue
		}
		counts[tok]++
		total++
	}
	if total == 0 {
		return []models.WeightedTerm{}
	}

	terms := []models.WeightedTerm{}
	for term, n := range counts {
		if n < opts.KeywordMinCount {
			continue
		}
		weight := float64(n) / float64(total) * (1 - lex.background[term])
		weight = math.Round(weight*1e4) / 1e4
		if weight < opts.KeywordMinWeight {
			continue
		}
		terms = append(terms, models.WeightedTerm{Term: term, Weight: weight})
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Weight != terms[j].Weight {
			return terms[i].Weight > terms[j].Weight
		}
		return terms[i].Term < terms[j].Term
	})
	if opts.MaxKeywords > 0 && len(terms) > opts.MaxKeywords {
		terms = terms[:opts.MaxKeywords]
	}
	return terms
}

func isNumber(s string) bool {
	for i := 0; i < len(s); i++ {
		if (s[i] < '0' || s[i] > '9') && s[i] != '.' && s[i] != '+' {
			return false
		}
	}
	return true
}

var remotePhrases = []string{"remote", "work from home", "wfh", "fully distributed", "home office", "anywhere"}

func detectRemote(text string) bool {
	for _, phrase := range remotePhrases {
		if indexWord(text, phrase) >= 0 {
			return true
		}
	}
	return false
}
