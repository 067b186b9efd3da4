// Package postprocess implements the design's C6 post-processing pipeline:
// acronym folding, sentence-boundary capitalization, and an optional
// grammar/style pass.
//
// The grammar pass is grounded on glyphoxa's phonetic entity matcher
// (internal/transcript/phonetic/phonetic.go), which only accepts a
// correction when matchr.JaroWinkler(original, candidate) clears a safety
// threshold. Here the same discipline is repurposed: a style correction
// (de-duplicating an immediately repeated word, expanding a contraction) is
// only applied when it stays close enough to the original span to rule out
// the correction mangling the speaker's actual words.
package postprocess

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// DefaultGrammarSafetyThreshold is the minimum Jaro-Winkler similarity
// between an original span and its proposed correction for the correction
// to be applied.
const DefaultGrammarSafetyThreshold = 0.90

// Options configures a Pipeline.
type Options struct {
	// Acronyms maps a lowercase spoken form to its folded form, e.g.
	// "api" -> "API". Each key is matched against one whitespace-separated
	// word at a time, case-insensitively, so multi-word keys never match;
	// spelled-out letter runs such as "a p i" are folded separately.
	Acronyms map[string]string
	// EnableGrammarPass turns on stage 3 (repeated-word removal and
	// contraction fixes).
	EnableGrammarPass bool
	// DisableAcronymFolding turns off stage 1.
	DisableAcronymFolding bool
	// DisableCapitalization turns off stage 2.
	DisableCapitalization bool
	// GrammarSafetyThreshold overrides DefaultGrammarSafetyThreshold.
	GrammarSafetyThreshold float64
}

// Pipeline runs the three post-processing stages in order: acronym folding,
// capitalization, then (optionally) the grammar pass.
type Pipeline struct {
	acronyms         map[string]string
	grammarPass      bool
	foldAcronymsOn   bool
	capitalizeOn     bool
	safetyThreshold  float64
	contractionFixes map[string]string
}

// New returns a Pipeline configured by opts, applying spec defaults for any
// zero-valued field.
func New(opts Options) *Pipeline {
	threshold := opts.GrammarSafetyThreshold
	if threshold <= 0 {
		threshold = DefaultGrammarSafetyThreshold
	}
	acronyms := make(map[string]string, len(opts.Acronyms))
	for k, v := range opts.Acronyms {
		acronyms[strings.ToLower(k)] = v
	}
	return &Pipeline{
		acronyms:       acronyms,
		grammarPass:    opts.EnableGrammarPass,
		foldAcronymsOn: !opts.DisableAcronymFolding,
		capitalizeOn:   !opts.DisableCapitalization,
		safetyThreshold: threshold,
		contractionFixes: map[string]string{
			"dont":   "don't",
			"cant":   "can't",
			"wont":   "won't",
			"im":     "I'm",
			"ive":    "I've",
			"youre":  "you're",
			"theyre": "they're",
		},
	}
}

// Apply runs text through the pipeline and returns the processed result.
func (p *Pipeline) Apply(text string) string {
	if p.foldAcronymsOn {
		text = p.foldAcronyms(text)
	}
	if p.capitalizeOn {
		text = capitalizeSentences(text)
	}
	if p.grammarPass {
		text = p.runGrammarPass(text)
	}
	return text
}

// foldAcronyms runs both of spec.md §4.6 stage 1's folding behaviors: a
// whole-word (case-insensitive) dictionary lookup, and detection of a run of
// ≥2 consecutive single-letter tokens (how a speech recognizer spells out an
// acronym letter-by-letter, e.g. "a p i"), which gets uppercased and joined
// into one word regardless of whether it appears in the dictionary.
func (p *Pipeline) foldAcronyms(text string) string {
	words := strings.Fields(text)
	if len(p.acronyms) > 0 {
		for i, w := range words {
			trimmed, lead, trail := splitPunct(w)
			if folded, ok := p.acronyms[strings.ToLower(trimmed)]; ok {
				words[i] = lead + folded + trail
			}
		}
	}
	words = collapseLetterRuns(words)
	return strings.Join(words, " ")
}

// collapseLetterRuns joins every maximal run of ≥2 consecutive single-letter
// word tokens into one uppercased token, e.g. ["a", "p", "i"] -> ["API"].
// A run of exactly one single-letter token (an actual word like "a" or "I")
// is left untouched.
func collapseLetterRuns(words []string) []string {
	out := make([]string, 0, len(words))
	for i := 0; i < len(words); {
		if !isSingleLetterToken(words[i]) {
			out = append(out, words[i])
			i++
			continue
		}
		_, lead, _ := splitPunct(words[i])
		j := i
		var letters strings.Builder
		var trail string
		for j < len(words) && isSingleLetterToken(words[j]) {
			trimmed, _, tr := splitPunct(words[j])
			letters.WriteString(strings.ToUpper(trimmed))
			trail = tr
			j++
		}
		if j-i >= 2 {
			out = append(out, lead+letters.String()+trail)
		} else {
			out = append(out, words[i])
		}
		i = j
	}
	return out
}

// isSingleLetterToken reports whether w's inner (punctuation-stripped) span
// is exactly one letter.
func isSingleLetterToken(w string) bool {
	trimmed, _, _ := splitPunct(w)
	runes := []rune(trimmed)
	return len(runes) == 1 && unicode.IsLetter(runes[0])
}

// capitalizeSentences uppercases the first letter following the start of
// the string or a sentence-ending punctuation mark (. ? !).
func capitalizeSentences(text string) string {
	runes := []rune(text)
	capNext := true
	for i, r := range runes {
		if capNext && unicode.IsLetter(r) {
			runes[i] = unicode.ToUpper(r)
			capNext = false
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			capNext = false
		}
		if r == '.' || r == '?' || r == '!' {
			capNext = true
		}
	}
	return string(runes)
}

// runGrammarPass removes immediately-repeated words and expands known
// contractions, applying each candidate correction only when it scores
// above the safety threshold against the span it replaces.
func (p *Pipeline) runGrammarPass(text string) string {
	words := strings.Fields(text)
	out := make([]string, 0, len(words))
	for i, w := range words {
		trimmed, lead, trail := splitPunct(w)

		if fix, ok := p.contractionFixes[strings.ToLower(trimmed)]; ok && p.safe(trimmed, fix) {
			out = append(out, lead+fix+trail)
			continue
		}

		if len(out) > 0 {
			prevTrimmed, _, _ := splitPunct(out[len(out)-1])
			if strings.EqualFold(prevTrimmed, trimmed) && trimmed != "" {
				// Repeated word: drop it, since "the the" collapsing to "the"
				// is trivially safe against the original span by definition.
				continue
			}
		}
		_ = i
		out = append(out, w)
	}
	return strings.Join(out, " ")
}

// safe reports whether replacing original with candidate is close enough to
// the source to rule out an unintended meaning change.
func (p *Pipeline) safe(original, candidate string) bool {
	return matchr.JaroWinkler(strings.ToLower(original), strings.ToLower(candidate), false) >= p.safetyThreshold
}

// splitPunct separates a word into its leading/trailing non-letter
// characters and the inner alphanumeric span, so acronym/contraction
// matching can ignore surrounding punctuation while preserving it.
func splitPunct(w string) (trimmed, lead, trail string) {
	runes := []rune(w)
	start, end := 0, len(runes)
	for start < end && !unicode.IsLetter(runes[start]) && !unicode.IsDigit(runes[start]) {
		start++
	}
	for end > start && !unicode.IsLetter(runes[end-1]) && !unicode.IsDigit(runes[end-1]) {
		end--
	}
	return string(runes[start:end]), string(runes[:start]), string(runes[end:])
}
