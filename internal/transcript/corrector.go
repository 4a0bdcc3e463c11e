package transcript

import (
	"strings"
	"sync/atomic"
	"unicode"
	"unicode/utf8"
)

// minTokenRunes is the shortest single word considered for correction.
const minTokenRunes = 3

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a candidate
// whose Double Metaphone codes overlap with the spoken span. Default: 0.75.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Corrector) {
		c.phoneticMin = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a candidate
// without phonetic overlap. Default: 0.92.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) {
		c.fuzzyMin = threshold
	}
}

// Corrector replaces misheard spans of recognized text with phrases from a
// vocabulary. The vocabulary can be swapped at runtime with
// [Corrector.SetVocabulary]; all methods are safe for concurrent use.
type Corrector struct {
	vocab       atomic.Pointer[vocabulary]
	phoneticMin float64
	fuzzyMin    float64
}

// New returns a Corrector for the given vocabulary phrases. Blank and
// duplicate (case-insensitive) phrases are ignored.
func New(phrases []string, opts ...Option) *Corrector {
	c := &Corrector{
		phoneticMin: defaultPhoneticThreshold,
		fuzzyMin:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	c.SetVocabulary(phrases)
	return c
}

// SetVocabulary atomically replaces the vocabulary.
func (c *Corrector) SetVocabulary(phrases []string) {
	c.vocab.Store(newVocabulary(phrases))
}

// Vocabulary returns the active phrases in their canonical spelling.
func (c *Corrector) Vocabulary() []string {
	v := c.vocab.Load()
	out := make([]string, len(v.phrases))
	for i, p := range v.phrases {
		out[i] = p.text
	}
	return out
}

// Correct returns text with every recognised vocabulary span replaced by its
// canonical spelling. Punctuation around a replaced span is preserved; spans
// never cross punctuation. When nothing matches, Result.Text equals text.
func (c *Corrector) Correct(text string) Result {
	res := Result{Text: text}
	v := c.vocab.Load()
	if len(v.phrases) == 0 {
		return res
	}
	words := splitWords(text)
	if len(words) == 0 {
		return res
	}

	out := make([]string, 0, len(words))
	for i := 0; i < len(words); {
		n, m, ok := c.longestMatch(v, words[i:])
		if !ok {
			out = append(out, words[i].raw)
			i++
			continue
		}
		span := words[i : i+n]
		original := make([]string, n)
		for k, w := range span {
			original[k] = w.core
		}
		i += n
		if strings.Join(original, " ") == m.phrase {
			for _, w := range span {
				out = append(out, w.raw)
			}
			continue
		}
		res.Corrections = append(res.Corrections, Correction{
			Original:   strings.Join(original, " "),
			Corrected:  m.phrase,
			Confidence: m.score,
			Phonetic:   m.phonetic,
		})
		out = append(out, span[0].lead+m.phrase+span[n-1].trail)
	}
	if len(res.Corrections) > 0 {
		res.Text = strings.Join(out, " ")
	}
	return res
}

// longestMatch tries windows from the longest plausible span down to a single
// word and returns the first hit. A window only wins if dropping its first or
// last word would score lower, so a phrase never absorbs a neighbour.
func (c *Corrector) longestMatch(v *vocabulary, words []word) (int, match, bool) {
	limit := min(v.maxWords+1, len(words))
	for n := limit; n >= 1; n-- {
		window := words[:n]
		if !joinable(window) {
			continue
		}
		tokens := make([]string, n)
		for k, w := range window {
			tokens[k] = w.lower
		}
		m, ok := c.lookup(v, tokens)
		if !ok {
			continue
		}
		if n > 1 && (c.atLeast(v, tokens[:n-1], m) || c.atLeast(v, tokens[1:], m)) {
			continue
		}
		return n, m, true
	}
	return 0, match{}, false
}

func (c *Corrector) lookup(v *vocabulary, tokens []string) (match, bool) {
	if len(tokens) == 1 && utf8.RuneCountInString(tokens[0]) < minTokenRunes {
		return match{}, false
	}
	return v.lookup(tokens, c.phoneticMin, c.fuzzyMin)
}

// atLeast reports whether tokens match the same phrase as m at least as well.
func (c *Corrector) atLeast(v *vocabulary, tokens []string, m match) bool {
	sub, ok := c.lookup(v, tokens)
	return ok && sub.phrase == m.phrase && sub.score >= m.score
}

// word is a whitespace-separated token split into leading punctuation, the
// letters and digits in between, and trailing punctuation.
type word struct {
	raw   string
	lead  string
	core  string
	trail string
	lower string
}

func splitWords(text string) []word {
	fields := strings.Fields(text)
	out := make([]word, 0, len(fields))
	for _, f := range fields {
		start := strings.IndexFunc(f, isWordRune)
		if start < 0 {
			out = append(out, word{raw: f, lead: f})
			continue
		}
		end := strings.LastIndexFunc(f, isWordRune)
		_, size := utf8.DecodeRuneInString(f[end:])
		end += size
		out = append(out, word{
			raw:   f,
			lead:  f[:start],
			core:  f[start:end],
			trail: f[end:],
			lower: strings.ToLower(f[start:end]),
		})
	}
	return out
}

// joinable reports whether the words can be treated as one spoken span:
// every word has content, and only the outer edges carry punctuation.
func joinable(ws []word) bool {
	for i, w := range ws {
		if w.core == "" {
			return false
		}
		if i > 0 && w.lead != "" {
			return false
		}
		if i < len(ws)-1 && w.trail != "" {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\''
}
