// Package transcript corrects recognized text against a configured
// vocabulary of domain phrases (product names, people, places) that speech
// backends routinely mishear.
//
// Matching is phonetic first: Double Metaphone codes of the spoken tokens are
// compared with the codes of every vocabulary phrase, and overlapping
// candidates are ranked by Jaro-Winkler similarity. When no phonetic candidate
// qualifies, a stricter pure Jaro-Winkler pass is tried.
package transcript

// Correction is a single substitution applied to a transcript.
type Correction struct {
	// Original is the span as produced by the speech backend.
	Original string

	// Corrected is the vocabulary phrase that replaced it.
	Corrected string

	// Confidence is the Jaro-Winkler similarity in [0, 1].
	Confidence float64

	// Phonetic is true when the Double Metaphone codes overlapped.
	Phonetic bool
}

// Result is the output of [Corrector.Correct].
type Result struct {
	// Text is the corrected text.
	Text string

	// Corrections lists the substitutions in text order. Empty when the text
	// was returned unchanged.
	Corrections []Correction
}
