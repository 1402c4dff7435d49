package translate

import (
	"context"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

// glossaryLanguages are the languages the glossary backend can translate.
var glossaryLanguages = []string{"en", "es", "fr", "de", "it", "pt"}

// glossary maps English terms to es, fr, de, it, pt (in that order).
var glossary = map[string][5]string{
	"hello":            {"hola", "bonjour", "hallo", "ciao", "olá"},
	"dear":             {"estimado", "cher", "liebe", "gentile", "caro"},
	"thank you":        {"gracias", "merci", "danke", "grazie", "obrigado"},
	"best regards":     {"saludos cordiales", "cordialement", "mit freundlichen grüßen", "cordiali saluti", "atenciosamente"},
	"application":      {"solicitud", "candidature", "bewerbung", "candidatura", "candidatura"},
	"job":              {"empleo", "emploi", "stelle", "lavoro", "emprego"},
	"position":         {"puesto", "poste", "position", "posizione", "cargo"},
	"role":             {"puesto", "rôle", "rolle", "ruolo", "função"},
	"experience":       {"experiencia", "expérience", "erfahrung", "esperienza", "experiência"},
	"years":            {"años", "ans", "jahre", "anni", "anos"},
	"skills":           {"habilidades", "compétences", "fähigkeiten", "competenze", "habilidades"},
	"team":             {"equipo", "équipe", "team", "squadra", "equipe"},
	"company":          {"empresa", "entreprise", "unternehmen", "azienda", "empresa"},
	"interview":        {"entrevista", "entretien", "vorstellungsgespräch", "colloquio", "entrevista"},
	"cv":               {"cv", "cv", "lebenslauf", "cv", "cv"},
	"resume":           {"currículum", "cv", "lebenslauf", "curriculum", "currículo"},
	"opportunity":      {"oportunidad", "opportunité", "gelegenheit", "opportunità", "oportunidade"},
	"manager":          {"gerente", "responsable", "manager", "responsabile", "gerente"},
	"analyst":          {"analista", "analyste", "analyst", "analista", "analista"},
	"engineer":         {"ingeniero", "ingénieur", "ingenieur", "ingegnere", "engenheiro"},
	"data":             {"datos", "données", "daten", "dati", "dados"},
	"project":          {"proyecto", "projet", "projekt", "progetto", "projeto"},
	"customer":         {"cliente", "client", "kunde", "cliente", "cliente"},
	"salary":           {"salario", "salaire", "gehalt", "stipendio", "salário"},
	"remote":           {"remoto", "à distance", "remote", "da remoto", "remoto"},
	"work":             {"trabajo", "travail", "arbeit", "lavoro", "trabalho"},
	"software":         {"software", "logiciel", "software", "software", "software"},
	"development":      {"desarrollo", "développement", "entwicklung", "sviluppo", "desenvolvimento"},
	"requirements":     {"requisitos", "exigences", "anforderungen", "requisiti", "requisitos"},
	"responsibilities": {"responsabilidades", "responsabilités", "aufgaben", "responsabilità", "responsabilidades"},
	"i am":             {"soy", "je suis", "ich bin", "sono", "eu sou"},
	"we are":           {"somos", "nous sommes", "wir sind", "siamo", "somos"},
	"looking for":      {"buscando", "à la recherche de", "auf der suche nach", "alla ricerca di", "procurando"},
	"and":              {"y", "et", "und", "e", "e"},
	"with":             {"con", "avec", "mit", "con", "com"},
	"for":              {"para", "pour", "für", "per", "para"},
	"the":              {"el", "le", "die", "il", "o"},
	"of":               {"de", "de", "von", "di", "de"},
	"in":               {"en", "en", "in", "in", "em"},
	"my":               {"mi", "mon", "mein", "mio", "meu"},
	"your":             {"su", "votre", "ihr", "tuo", "seu"},
	"our":              {"nuestro", "notre", "unser", "nostro", "nosso"},
	"good":             {"bueno", "bon", "gut", "buono", "bom"},
	"new":              {"nuevo", "nouveau", "neu", "nuovo", "novo"},
}

var glossaryIndex = map[string]int{"es": 0, "fr": 1, "de": 2, "it": 3, "pt": 4}

// maxPhraseWords is the longest glossary entry in words.
const maxPhraseWords = 4

// GlossaryBackend translates word by word from a fixed professional
// vocabulary. Unknown words are kept as they are. Pairs without English
// pivot through English.
type GlossaryBackend struct {
	tables map[string]map[string]string // "src>tgt" -> phrase -> phrase
}

// NewGlossaryBackend builds the lookup tables.
func NewGlossaryBackend() *GlossaryBackend {
	g := &GlossaryBackend{tables: make(map[string]map[string]string)}
	for lang, idx := range glossaryIndex {
		to := make(map[string]string, len(glossary))
		from := make(map[string]string, len(glossary))
		for en, tr := range glossary {
			to[en] = tr[idx]
			// Shared translations map back to the shortest English term.
			cur, taken := from[tr[idx]]
			if !taken || len(en) < len(cur) || (len(en) == len(cur) && en < cur) {
				from[tr[idx]] = en
			}
		}
		g.tables["en>"+lang] = to
		g.tables[lang+">en"] = from
	}
	return g
}

func (g *GlossaryBackend) Name() string { return "glossary" }

func (g *GlossaryBackend) Languages() []string { return glossaryLanguages }

// Translate implements Backend. Confidence grows with the share of words
// found in the glossary.
func (g *GlossaryBackend) Translate(ctx context.Context, text, source, target string) (string, float64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	if source == target {
		return text, 1, nil
	}
	if source != "en" && target != "en" {
		mid, c1, _ := g.Translate(ctx, text, source, "en")
		out, c2, err := g.Translate(ctx, mid, "en", target)
		return out, math.Round(c1*c2*100) / 100, err
	}

	table := g.tables[source+">"+target]
	tokens := tokenize(text)
	var out strings.Builder
	words, matched := 0, 0
	for i := 0; i < len(tokens); {
		if !tokens[i].word {
			out.WriteString(tokens[i].text)
			i++
			continue
		}
		n, phrase := g.longestMatch(table, tokens, i)
		if n == 0 {
			out.WriteString(tokens[i].text)
			words++
			i++
			continue
		}
		// consumed covers the words and the separators between them.
		first := tokens[i].text
		out.WriteString(matchCase(first, phrase))
		for consumed := 0; consumed < n; i++ {
			if tokens[i].word {
				consumed++
				words++
				matched++
			}
		}
	}
	if words == 0 {
		return text, 1, nil
	}
	confidence := 0.5 + 0.45*float64(matched)/float64(words)
	return out.String(), math.Round(confidence*100) / 100, nil
}

// longestMatch finds the longest glossary phrase starting at token i and
// returns its word count and translation.
func (g *GlossaryBackend) longestMatch(table map[string]string, tokens []token, i int) (int, string) {
	var words []string
	var bestN int
	var best string
	for j := i; j < len(tokens) && len(words) < maxPhraseWords; j++ {
		if !tokens[j].word {
			if strings.TrimSpace(tokens[j].text) != "" {
				break
			}
			continue
		}
		words = append(words, strings.ToLower(tokens[j].text))
		if tr, ok := table[strings.Join(words, " ")]; ok {
			bestN, best = len(words), tr
		}
	}
	return bestN, best
}

type token struct {
	text string
	word bool
}

func tokenize(s string) []token {
	var out []token
	var cur strings.Builder
	inWord := false
	for _, r := range s {
		isWord := unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\''
		if cur.Len() > 0 && isWord != inWord {
			out = append(out, token{text: cur.String(), word: inWord})
			cur.Reset()
		}
		inWord = isWord
		cur.WriteRune(r)
	}
	if cur.Len() > 0 {
		out = append(out, token{text: cur.String(), word: inWord})
	}
	return out
}

// matchCase capitalizes tr when the source word was capitalized.
func matchCase(src, tr string) string {
	r, _ := utf8.DecodeRuneInString(src)
	if !unicode.IsUpper(r) || tr == "" {
		return tr
	}
	t, size := utf8.DecodeRuneInString(tr)
	return string(unicode.ToUpper(t)) + tr[size:]
}
