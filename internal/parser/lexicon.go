package parser

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"jobpilot/internal/models"
)

// SkillTerm is one lexicon entry. Name is the canonical skill; aliases are
// alternative spellings that map to it.
type SkillTerm struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases,omitempty"`
}

// Lexicon is the curated vocabulary the parser matches against.
type Lexicon struct {
	Version    string              `yaml:"version"`
	Skills     []SkillTerm         `yaml:"skills"`
	Domains    map[string][]string `yaml:"domains"`
	Background map[string]float64  `yaml:"background"`
}

// DefaultLexicon returns the built-in vocabulary.
func DefaultLexicon() *Lexicon {
	return &Lexicon{
		Version:    "builtin-1",
		Skills:     defaultSkills(),
		Domains:    defaultDomains(),
		Background: defaultBackground(),
	}
}

// LoadLexicon reads a YAML override file and merges it over the defaults.
// Skills are added (aliases of existing names are merged), domain keyword lists
// replace the built-in list of the same name and background weights are overlaid.
func LoadLexicon(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon %s: %w", path, err)
	}
	var override Lexicon
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse lexicon %s: %w", path, err)
	}
	merged := DefaultLexicon()
	if err := merged.merge(&override); err != nil {
		return nil, fmt.Errorf("lexicon %s: %w", path, err)
	}
	return merged, nil
}

func (l *Lexicon) merge(o *Lexicon) error {
	if o.Version != "" {
		l.Version = o.Version
	}
	index := make(map[string]int, len(l.Skills))
	for i, s := range l.Skills {
		index[s.Name] = i
	}
	for _, s := range o.Skills {
		name := models.NormalizeText(s.Name)
		if name == "" {
			return fmt.Errorf("skill entry without a name")
		}
		if i, ok := index[name]; ok {
			l.Skills[i].Aliases = append(l.Skills[i].Aliases, s.Aliases...)
			continue
		}
		index[name] = len(l.Skills)
		l.Skills = append(l.Skills, SkillTerm{Name: name, Aliases: s.Aliases})
	}
	for domain, terms := range o.Domains {
		name := models.NormalizeText(domain)
		if name == "" || name == DomainUnknown {
			return fmt.Errorf("invalid domain name %q", domain)
		}
		l.Domains[name] = terms
	}
	for term, w := range o.Background {
		if w < 0 || w > 1 {
			return fmt.Errorf("background weight for %q must be within [0,1]", term)
		}
		l.Background[models.NormalizeText(term)] = w
	}
	return nil
}

type compiledSkill struct {
	name     string
	patterns []string
}

type compiledDomain struct {
	name  string
	terms []string
}

// compiledLexicon is the matcher-ready form. Slices are sorted so matching
// never depends on map iteration order.
type compiledLexicon struct {
	version    string
	skills     []compiledSkill
	domains    []compiledDomain
	background map[string]float64
}

func compile(l *Lexicon) *compiledLexicon {
	c := &compiledLexicon{version: l.Version, background: make(map[string]float64, len(l.Background))}
	for _, s := range l.Skills {
		patterns := models.NormalizeTerms(append([]string{s.Name}, s.Aliases...))
		c.skills = append(c.skills, compiledSkill{name: models.NormalizeText(s.Name), patterns: patterns})
	}
	sort.Slice(c.skills, func(i, j int) bool { return c.skills[i].name < c.skills[j].name })

	for name, terms := range l.Domains {
		c.domains = append(c.domains, compiledDomain{name: name, terms: models.NormalizeTerms(terms)})
	}
	sort.Slice(c.domains, func(i, j int) bool { return c.domains[i].name < c.domains[j].name })

	for term, w := range l.Background {
		c.background[strings.ToLower(term)] = w
	}
	return c
}

func defaultSkills() []SkillTerm {
	return []SkillTerm{
		// languages
		{Name: "python"},
		{Name: "java"},
		{Name: "javascript", Aliases: []string{"js", "ecmascript"}},
		{Name: "typescript"},
		{Name: "golang", Aliases: []string{"go developer", "go engineer"}},
		{Name: "rust"},
		{Name: "c++", Aliases: []string{"cpp"}},
		{Name: "c#", Aliases: []string{"csharp"}},
		{Name: "ruby"},
		{Name: "php"},
		{Name: "scala"},
		{Name: "kotlin"},
		{Name: "swift"},
		{Name: "sql"},
		{Name: "nosql"},
		{Name: "bash", Aliases: []string{"shell scripting"}},
		// data stores and platforms
		{Name: "postgresql", Aliases: []string{"postgres"}},
		{Name: "mysql"},
		{Name: "mongodb"},
		{Name: "redis"},
		{Name: "elasticsearch"},
		{Name: "kafka", Aliases: []string{"apache kafka"}},
		{Name: "spark", Aliases: []string{"apache spark", "pyspark"}},
		{Name: "hadoop"},
		{Name: "airflow"},
		{Name: "dbt"},
		{Name: "snowflake"},
		{Name: "bigquery"},
		{Name: "databricks"},
		// analytics and office tools
		{Name: "tableau"},
		{Name: "power bi", Aliases: []string{"powerbi"}},
		{Name: "excel", Aliases: []string{"ms excel", "microsoft excel"}},
		{Name: "sap"},
		{Name: "salesforce"},
		{Name: "jira"},
		{Name: "confluence"},
		{Name: "figma"},
		{Name: "google analytics"},
		{Name: "hubspot"},
		// infrastructure
		{Name: "git"},
		{Name: "docker"},
		{Name: "kubernetes", Aliases: []string{"k8s"}},
		{Name: "terraform"},
		{Name: "ansible"},
		{Name: "aws", Aliases: []string{"amazon web services"}},
		{Name: "azure", Aliases: []string{"microsoft azure"}},
		{Name: "gcp", Aliases: []string{"google cloud"}},
		{Name: "linux"},
		{Name: "jenkins"},
		{Name: "ci/cd", Aliases: []string{"continuous integration"}},
		{Name: "prometheus"},
		{Name: "grafana"},
		// frameworks
		{Name: "react", Aliases: []string{"react.js", "reactjs"}},
		{Name: "angular"},
		{Name: "vue", Aliases: []string{"vue.js", "vuejs"}},
		{Name: "node.js", Aliases: []string{"nodejs"}},
		{Name: "django"},
		{Name: "flask"},
		{Name: "fastapi"},
		{Name: "spring boot", Aliases: []string{"spring framework"}},
		{Name: ".net", Aliases: []string{"asp.net", "dotnet"}},
		{Name: "graphql"},
		{Name: "rest api", Aliases: []string{"restful", "rest apis"}},
		{Name: "grpc"},
		{Name: "microservices"},
		// machine learning
		{Name: "machine learning", Aliases: []string{"ml"}},
		{Name: "deep learning"},
		{Name: "nlp", Aliases: []string{"natural language processing"}},
		{Name: "pytorch"},
		{Name: "tensorflow"},
		{Name: "scikit-learn", Aliases: []string{"sklearn"}},
		{Name: "pandas"},
		{Name: "numpy"},
		{Name: "statistics"},
		// methods and business practice
		{Name: "data analysis"},
		{Name: "data visualization", Aliases: []string{"data visualisation"}},
		{Name: "etl"},
		{Name: "agile"},
		{Name: "scrum"},
		{Name: "kanban"},
		{Name: "six sigma"},
		{Name: "prince2"},
		{Name: "itil"},
		{Name: "devops"},
		{Name: "stakeholder management"},
		{Name: "requirements engineering"},
		{Name: "business analysis"},
		{Name: "process mapping"},
		{Name: "project management"},
		{Name: "product management"},
		{Name: "change management"},
		{Name: "risk management"},
		{Name: "financial modeling", Aliases: []string{"financial modelling"}},
		{Name: "ifrs"},
		{Name: "accounting"},
		{Name: "seo"},
		{Name: "crm"},
		{Name: "erp"},
		{Name: "rpa", Aliases: []string{"robotic process automation"}},
		{Name: "uipath"},
		{Name: "automation anywhere"},
		{Name: "selenium"},
		{Name: "cypress"},
		{Name: "ux", Aliases: []string{"user experience"}},
	}
}

func defaultDomains() map[string][]string {
	return map[string][]string{
		"software":        {"software", "backend", "frontend", "full stack", "api", "microservices", "developer", "engineering", "code"},
		"data":            {"data", "analytics", "bi", "dashboard", "warehouse", "etl", "machine learning", "reporting", "insights"},
		"finance":         {"finance", "financial", "banking", "bank", "accounting", "audit", "investment", "treasury", "ifrs", "fintech"},
		"healthcare":      {"healthcare", "clinical", "patient", "medical", "hospital", "pharma", "health"},
		"marketing":       {"marketing", "brand", "campaign", "seo", "content", "social media", "growth"},
		"sales":           {"sales", "account executive", "quota", "pipeline", "revenue", "customer acquisition"},
		"consulting":      {"consulting", "consultant", "client", "advisory", "engagement", "stakeholder"},
		"education":       {"education", "teaching", "curriculum", "students", "learning", "school", "university"},
		"manufacturing":   {"manufacturing", "production", "plant", "factory", "lean", "quality control"},
		"logistics":       {"logistics", "supply chain", "warehouse", "shipping", "procurement", "inventory"},
		"legal":           {"legal", "law", "compliance", "regulatory", "contracts", "counsel"},
		"human_resources": {"hr", "human resources", "recruiting", "talent", "payroll", "onboarding"},
		"design":          {"design", "ux", "ui", "figma", "prototype", "visual"},
		"security":        {"security", "cybersecurity", "threat", "vulnerability", "siem", "penetration"},
		"infrastructure":  {"infrastructure", "cloud", "devops", "kubernetes", "sre", "reliability", "terraform"},
	}
}

// defaultBackground lists words that are common in any job posting. The value
// is the share of the raw term frequency that is discounted.
func defaultBackground() map[string]float64 {
	common := map[string]float64{
		"experience": 0.9, "team": 0.9, "work": 0.9, "working": 0.9, "role": 0.9, "company": 0.9,
		"skills": 0.8, "looking": 0.9, "join": 0.9, "opportunity": 0.9, "strong": 0.7, "ability": 0.8,
		"knowledge": 0.7, "years": 0.8, "including": 0.8, "responsibilities": 0.9, "requirements": 0.9,
		"candidate": 0.9, "position": 0.9, "environment": 0.7, "help": 0.8, "new": 0.8, "business": 0.5,
		"support": 0.6, "across": 0.8, "within": 0.8, "develop": 0.5, "build": 0.5, "ensure": 0.8,
		"excellent": 0.8, "good": 0.8, "great": 0.8, "plus": 0.9, "benefits": 0.9, "salary": 0.9,
		"offer": 0.9, "apply": 0.9, "please": 0.9, "job": 0.9, "description": 0.9, "required": 0.9,
		"preferred": 0.9, "etc": 0.9, "will": 0.9, "must": 0.9, "also": 0.9,
	}
	return common
}
