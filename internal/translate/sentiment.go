package translate

import (
	"math"
	"slices"
	"strings"
)

// Sentiment is a lexicon score of one text.
type Sentiment struct {
	Compound          float64 `json:"compound"`
	Positive          float64 `json:"positive"`
	Negative          float64 `json:"negative"`
	Neutral           float64 `json:"neutral"`
	Label             string  `json:"label"`
	CulturallyAdapted float64 `json:"culturally_adapted"`
	CulturalContext   string  `json:"cultural_context"`
}

// valence on a -4..4 scale, mixed languages.
var valence = map[string]float64{
	// en
	"good": 1.9, "great": 3.1, "excellent": 3.2, "happy": 2.7, "glad": 2.0, "pleased": 1.9,
	"excited": 2.2, "love": 3.2, "thank": 1.5, "thanks": 1.9, "success": 2.7, "successful": 2.8,
	"achievement": 2.3, "opportunity": 1.8, "strong": 1.5, "best": 3.2, "impressive": 2.6,
	"outstanding": 3.0, "interested": 1.7, "enjoy": 2.2, "welcome": 2.0, "helpful": 1.8,
	"bad": -2.5, "poor": -2.1, "terrible": -3.1, "sad": -2.1, "unfortunately": -1.8,
	"reject": -1.7, "rejected": -2.1, "decline": -1.4, "declined": -1.6, "fail": -2.5,
	"failed": -2.3, "failure": -2.6, "problem": -1.7, "difficult": -1.5, "disappointed": -2.2,
	"hate": -2.7, "angry": -2.3, "worried": -1.8, "delay": -1.2, "late": -0.9,
	// es
	"bueno": 1.9, "excelente": 3.2, "feliz": 2.7, "gracias": 1.9, "éxito": 2.7, "encantado": 2.4,
	"familia": 1.2, "amor": 3.0, "malo": -2.5, "lamentablemente": -1.8, "problema": -1.7, "triste": -2.1,
	// fr
	"bon": 1.9, "heureux": 2.7, "merci": 1.9, "succès": 2.7, "ravi": 2.4, "mauvais": -2.5,
	"malheureusement": -1.8, "problème": -1.7,
	// de
	"gut": 1.9, "ausgezeichnet": 3.2, "danke": 1.9, "erfolg": 2.7, "freue": 2.2, "schlecht": -2.5,
	"leider": -1.8, "abgelehnt": -2.1,
	// it
	"buono": 1.9, "ottimo": 3.0, "felice": 2.7, "grazie": 1.9, "successo": 2.7, "cattivo": -2.5,
	"purtroppo": -1.8, "famiglia": 1.2,
	// pt
	"bom": 1.9, "ótimo": 3.0, "obrigado": 1.9, "sucesso": 2.7, "ruim": -2.5, "infelizmente": -1.8,
	"família": 1.2,
}

var negators = []string{"not", "no", "never", "don't", "isn't", "wasn't", "nunca", "jamais", "pas", "nicht", "kein", "keine", "non", "não"}

var boosters = map[string]float64{
	"very": 0.293, "really": 0.293, "extremely": 0.293, "highly": 0.293, "so": 0.293,
	"muy": 0.293, "très": 0.293, "sehr": 0.293, "molto": 0.293, "muito": 0.293,
	"slightly": -0.293, "somewhat": -0.293, "barely": -0.293,
}

const (
	negationScale  = -0.74
	normalizeAlpha = 15.0
	labelThreshold = 0.05
)

// culturalFactors scale the compound score for languages whose norms
// of expression differ from English.
var culturalFactors = map[string]float64{
	"es": 1.1,
	"it": 1.15,
	"fr": 0.95,
	"de": 0.9,
	"ja": 0.8,
	"zh": 0.85,
}

// CulturalFactor returns the sentiment scale for a language, 1.0 when none applies.
func CulturalFactor(lang string) float64 {
	if f, ok := culturalFactors[lang]; ok {
		return f
	}
	return 1.0
}

var contextCues = []struct {
	context string
	langs   []string
	words   []string
}{
	{"familial_warmth", []string{"es", "it", "pt"}, []string{"family", "love", "friends", "familia", "amor", "amigos", "famiglia", "amore", "amici", "família"}},
	{"harmonious_respect", []string{"ja", "zh"}, []string{"honor", "respect", "harmony", "尊敬", "調和", "和谐", "尊重"}},
	{"individual_achievement", []string{"en", "de"}, []string{"achievement", "success", "goal", "erfolg", "ziel", "leistung"}},
}

// culturalContext names the cultural register a text appeals to.
func culturalContext(lower, lang string) string {
	for _, c := range contextCues {
		if !slices.Contains(c.langs, lang) {
			continue
		}
		for _, w := range c.words {
			if strings.Contains(lower, w) {
				return c.context
			}
		}
	}
	return "neutral_context"
}

// AnalyzeSentiment scores text with the built-in lexicon. The result is
// deterministic for a given text and language.
func AnalyzeSentiment(text, lang string) Sentiment {
	lower := strings.ToLower(text)
	var words []string
	for _, tok := range tokenize(lower) {
		if tok.word {
			words = append(words, tok.text)
		}
	}

	var sum, pos, neg, neu float64
	for i, w := range words {
		v, ok := valence[w]
		if !ok {
			if _, isBooster := boosters[w]; !isBooster {
				neu++
			}
			continue
		}
		if i > 0 {
			if b, ok := boosters[words[i-1]]; ok {
				if v > 0 {
					v += b
				} else {
					v -= b
				}
			}
		}
		for back := 1; back <= 3 && i-back >= 0; back++ {
			if slices.Contains(negators, words[i-back]) {
				v *= negationScale
				break
			}
		}
		sum += v
		switch {
		case v > 0:
			pos += v + 1
		case v < 0:
			neg += v - 1
		default:
			neu++
		}
	}
	if strings.Count(text, "!") > 0 && sum != 0 {
		amp := 0.292 * float64(min(strings.Count(text, "!"), 4))
		if sum > 0 {
			sum += amp
		} else {
			sum -= amp
		}
	}

	s := Sentiment{CulturalContext: culturalContext(lower, lang)}
	if sum != 0 {
		s.Compound = sum / math.Sqrt(sum*sum+normalizeAlpha)
	}
	total := pos + math.Abs(neg) + neu
	if total > 0 {
		s.Positive = round3(pos / total)
		s.Negative = round3(math.Abs(neg) / total)
		s.Neutral = round3(neu / total)
	} else {
		s.Neutral = 1
	}
	s.Compound = round3(s.Compound)
	s.CulturallyAdapted = round3(math.Max(-1, math.Min(1, s.Compound*CulturalFactor(lang))))
	switch {
	case s.Compound >= labelThreshold:
		s.Label = "positive"
	case s.Compound <= -labelThreshold:
		s.Label = "negative"
	default:
		s.Label = "neutral"
	}
	return s
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
