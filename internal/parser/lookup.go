package parser

import (
	"slices"

	"jobpilot/internal/models"
)

// TermInfo is what the active lexicon knows about a term.
type TermInfo struct {
	Term             string   `json:"term"`
	Skill            string   `json:"skill,omitempty"`
	Aliases          []string `json:"aliases,omitempty"`
	Domains          []string `json:"domains,omitempty"`
	BackgroundWeight float64  `json:"background_weight"`
	LexiconVersion   string   `json:"lexicon_version"`
}

// Known reports whether the term is a skill or a domain keyword.
func (t TermInfo) Known() bool { return t.Skill != "" || len(t.Domains) > 0 }

// Lookup resolves term against the active lexicon. Aliases resolve to their
// canonical skill; domains are those listing the term or its skill.
func (p *Parser) Lookup(term string) TermInfo {
	lex := p.lexicon.Load()
	norm := models.NormalizeText(term)
	info := TermInfo{Term: norm, BackgroundWeight: lex.background[norm], LexiconVersion: lex.version}
	for _, s := range lex.skills {
		if !slices.Contains(s.patterns, norm) {
			continue
		}
		info.Skill = s.name
		for _, pat := range s.patterns {
			if pat != s.name {
				info.Aliases = append(info.Aliases, pat)
			}
		}
		break
	}
	for _, d := range lex.domains {
		if slices.Contains(d.terms, norm) || (info.Skill != "" && slices.Contains(d.terms, info.Skill)) {
			info.Domains = append(info.Domains, d.name)
		}
	}
	return info
}
