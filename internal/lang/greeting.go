package lang

import (
	"strings"
	"unicode"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ClassifierConfig carries the greeting phrase table and the two fuzzy
// thresholds so locales and sensitivity can be tuned without touching
// the matching logic.
type ClassifierConfig struct {
	Phrases []string
	// CloseMatchCutoff gates whole-string and first-token close matches.
	CloseMatchCutoff float64
	// RatioCutoff gates the looser whole-string and per-word similarity checks.
	RatioCutoff float64
}

// DefaultGreetings is the bilingual phrase table the service ships with.
var DefaultGreetings = []string{
	"hello", "hi", "hey", "good morning", "good evening", "good afternoon", "how are you",
	"السلام عليكم", "مرحبا", "صباح الخير", "مساء الخير", "أهلا", "أهلا وسهلا", "كيف حالك", "كيف حالكم",
}

func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		Phrases:          DefaultGreetings,
		CloseMatchCutoff: 0.8,
		RatioCutoff:      0.75,
	}
}

// Classifier decides whether free text is a greeting. Transcripts are
// noisy, so exact and prefix matches are layered with fuzzy fallbacks.
type Classifier struct {
	cfg        ClassifierConfig
	normalized []string
	sim        *metrics.RatcliffObershelp
}

func NewClassifier(cfg ClassifierConfig) *Classifier {
	if len(cfg.Phrases) == 0 {
		cfg.Phrases = DefaultGreetings
	}
	if cfg.CloseMatchCutoff <= 0 {
		cfg.CloseMatchCutoff = 0.8
	}
	if cfg.RatioCutoff <= 0 {
		cfg.RatioCutoff = 0.75
	}
	c := &Classifier{cfg: cfg, sim: metrics.NewRatcliffObershelp()}
	c.normalized = make([]string, 0, len(cfg.Phrases))
	for _, p := range cfg.Phrases {
		c.normalized = append(c.normalized, Normalize(p))
	}
	return c
}

var arabicFold = strings.NewReplacer(
	"أ", "ا", "إ", "ا", "آ", "ا",
	"ى", "ي", "ئ", "ي",
	"ؤ", "و",
	"ة", "ه",
)

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases, folds Arabic letter variants to a canonical
// form, and strips combining marks (diacritics) so harakat never break
// a match.
func Normalize(text string) string {
	text = strings.ToLower(text)
	text = arabicFold.Replace(text)
	if stripped, _, err := transform.String(stripMarks, text); err == nil {
		text = stripped
	}
	return strings.TrimSpace(text)
}

// IsGreeting checks the normalized input against the phrase table:
// exact or prefix first, then whole-string fuzzy, then first-token and
// per-word fuzzy. Any hit short-circuits.
func (c *Classifier) IsGreeting(text string) bool {
	t := Normalize(text)
	if t == "" {
		return false
	}

	for _, g := range c.normalized {
		if t == g || strings.HasPrefix(t, g) {
			return true
		}
	}
	// The close-match cutoff is stricter than the ratio cutoff, so one
	// whole-string pass covers both checks.
	if c.bestRatio(t) >= c.cfg.RatioCutoff {
		return true
	}
	words := strings.Fields(t)
	if len(words) > 0 && c.bestRatio(words[0]) >= c.cfg.CloseMatchCutoff {
		return true
	}
	for _, w := range words {
		if c.bestRatio(w) >= c.cfg.RatioCutoff {
			return true
		}
	}
	return false
}

func (c *Classifier) bestRatio(s string) float64 {
	best := 0.0
	for _, g := range c.normalized {
		if r := strutil.Similarity(s, g, c.sim); r > best {
			best = r
		}
	}
	return best
}
