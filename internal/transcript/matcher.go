package transcript

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.75
	defaultFuzzyThreshold    = 0.92
)

// phrase is a vocabulary entry with its phonetic codes computed up front.
type phrase struct {
	text   string
	lower  string
	tokens []string
	joined string

	// codes are the Double Metaphone codes of joined; tokenCodes hold the
	// codes of each token.
	codes      map[string]struct{}
	tokenCodes []map[string]struct{}
}

// vocabulary is an immutable, precomputed phrase list.
type vocabulary struct {
	phrases  []phrase
	maxWords int
}

func newVocabulary(entries []string) *vocabulary {
	v := &vocabulary{}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		lower := strings.ToLower(strings.TrimSpace(e))
		if lower == "" || seen[lower] {
			continue
		}
		seen[lower] = true
		tokens := strings.Fields(lower)
		v.phrases = append(v.phrases, phrase{
			text:       strings.Join(strings.Fields(e), " "),
			lower:      strings.Join(tokens, " "),
			tokens:     tokens,
			joined:     strings.Join(tokens, ""),
			codes:      metaphoneCodes(strings.Join(tokens, "")),
			tokenCodes: tokenCodes(tokens),
		})
		v.maxWords = max(v.maxWords, len(tokens))
	}
	return v
}

// match is a ranked vocabulary hit.
type match struct {
	phrase   string
	score    float64
	phonetic bool
}

// better reports whether m should replace cur as the best candidate.
// Phonetic hits outrank pure string similarity regardless of score.
func (m match) better(cur match) bool {
	if cur.phrase == "" {
		return true
	}
	if m.phonetic != cur.phonetic {
		return m.phonetic
	}
	return m.score > cur.score
}

// lookup finds the best vocabulary phrase for the given lowercase tokens.
// A span of n tokens is compared with phrases of n tokens, and with
// single-token phrases that may have been heard as separate syllables.
func (v *vocabulary) lookup(tokens []string, phoneticMin, fuzzyMin float64) (match, bool) {
	span := strings.Join(tokens, " ")
	joined := strings.Join(tokens, "")
	codes := metaphoneCodes(joined)
	perToken := tokenCodes(tokens)

	var best match
	for i := range v.phrases {
		p := &v.phrases[i]
		if len(p.tokens) != len(tokens) && len(p.tokens) != 1 {
			continue
		}
		if !comparableLength(joined, p.joined) {
			continue
		}
		score := similarity(span, joined, tokens, p)
		cand := match{phrase: p.text, score: score}
		switch {
		case score >= phoneticMin && soundsAlike(codes, perToken, p):
			cand.phonetic = true
		case score >= fuzzyMin:
		default:
			continue
		}
		if cand.better(best) {
			best = cand
		}
	}
	return best, best.phrase != ""
}

// soundsAlike reports whether the span and the phrase share a Double
// Metaphone code as a whole, or token by token when both have the same
// number of tokens.
func soundsAlike(codes map[string]struct{}, perToken []map[string]struct{}, p *phrase) bool {
	if overlaps(codes, p.codes) {
		return true
	}
	if len(perToken) != len(p.tokenCodes) || len(perToken) < 2 {
		return false
	}
	for i := range perToken {
		if !overlaps(perToken[i], p.tokenCodes[i]) {
			return false
		}
	}
	return true
}

// similarity is the best Jaro-Winkler score across the full span, the
// space-stripped span, and (for equal-length spans) the weakest token pair.
func similarity(span, joined string, tokens []string, p *phrase) float64 {
	score := matchr.JaroWinkler(span, p.lower, false)
	if s := matchr.JaroWinkler(joined, p.joined, false); s > score {
		score = s
	}
	if len(tokens) == len(p.tokens) && len(tokens) > 1 {
		weakest := 1.0
		for i := range tokens {
			weakest = min(weakest, matchr.JaroWinkler(tokens[i], p.tokens[i], false))
		}
		score = max(score, weakest)
	}
	return score
}

// comparableLength rejects candidates whose letter count differs by more
// than 30% (at least two letters), so a phrase never swallows neighbouring
// words.
func comparableLength(a, b string) bool {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	return diff <= max(2, lb*3/10)
}

func metaphoneCodes(word string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	primary, secondary := matchr.DoubleMetaphone(word)
	if primary != "" {
		codes[primary] = struct{}{}
	}
	if secondary != "" {
		codes[secondary] = struct{}{}
	}
	return codes
}

func tokenCodes(tokens []string) []map[string]struct{} {
	out := make([]map[string]struct{}, len(tokens))
	for i, t := range tokens {
		out[i] = metaphoneCodes(t)
	}
	return out
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}
