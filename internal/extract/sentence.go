package extract

import (
	"context"
	"strings"
	"unicode"
)

// abbreviations never end a sentence.
var abbreviations = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {}, "sr": {}, "jr": {},
	"st": {}, "vs": {}, "etc": {}, "e.g": {}, "i.e": {}, "inc": {}, "ltd": {},
}

// numberAbbreviations only abbreviate when a number follows ("No. 5").
var numberAbbreviations = map[string]struct{}{
	"no": {}, "vol": {}, "pp": {}, "fig": {}, "ch": {},
}

// sentenceStarters are capitalised words that usually open a sentence, so a
// single letter before them ends one ("agent K. He left").
var sentenceStarters = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "but": {}, "he": {}, "her": {}, "his": {},
	"i": {}, "if": {}, "in": {}, "it": {}, "my": {}, "no": {}, "she": {},
	"so": {}, "that": {}, "the": {}, "then": {}, "there": {}, "they": {},
	"this": {}, "we": {}, "when": {}, "yes": {}, "you": {},
}

// Text splits plain text into sentence chunks.
type Text struct {
	Body string

	// MinLength drops chunks shorter than this many runes (default: 1).
	MinLength int
}

func (t Text) ExtractChunks(ctx context.Context, _ string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	minLen := max(t.MinLength, 1)

	var chunks []string
	for _, s := range SplitSentences(t.Body) {
		if len([]rune(s)) < minLen {
			continue
		}
		chunks = append(chunks, s)
	}
	return Clean(chunks), nil
}

// SplitSentences breaks text at ., ! and ? followed by whitespace, skipping
// common abbreviations. Blank lines always end a sentence. Whitespace inside
// a sentence is collapsed.
func SplitSentences(text string) []string {
	var out []string
	for _, para := range splitParagraphs(text) {
		out = append(out, splitParagraph(para)...)
	}
	return out
}

func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var paras []string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			paras = append(paras, strings.Join(cur, " "))
			cur = cur[:0]
		}
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		cur = append(cur, line)
	}
	flush()
	return paras
}

func splitParagraph(para string) []string {
	runes := []rune(strings.Join(strings.Fields(para), " "))

	var out []string
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		end := i + 1
		for end < len(runes) && isTerminator(runes[end]) {
			end++
		}
		for end < len(runes) && isCloser(runes[end]) {
			end++
		}
		if end < len(runes) && !unicode.IsSpace(runes[end]) {
			i = end - 1
			continue
		}
		if runes[i] == '.' && isAbbreviation(runes[start:i], nextWord(runes[end:])) {
			i = end - 1
			continue
		}
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			out = append(out, s)
		}
		start = end
		i = end - 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func isTerminator(r rune) bool { return r == '.' || r == '!' || r == '?' }

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’':
		return true
	}
	return false
}

// isAbbreviation reports whether the word right before a period is a known
// abbreviation or an initial, given the word that follows the period.
func isAbbreviation(before []rune, next string) bool {
	j := len(before)
	for j > 0 && !unicode.IsSpace(before[j-1]) {
		j--
	}
	word := strings.TrimLeft(string(before[j:]), "(\"'")
	if word == "" {
		return false
	}
	lower := strings.ToLower(word)
	if _, ok := abbreviations[lower]; ok {
		return true
	}
	nr := []rune(next)
	if _, ok := numberAbbreviations[lower]; ok {
		return len(nr) > 0 && unicode.IsDigit(nr[0])
	}

	w := []rune(word)
	if len(w) != 1 || !unicode.IsUpper(w[0]) || len(nr) == 0 || !unicode.IsUpper(nr[0]) {
		return false
	}
	starter := strings.ToLower(strings.TrimRightFunc(next, func(r rune) bool { return !unicode.IsLetter(r) }))
	_, ends := sentenceStarters[starter]
	return !ends
}

// nextWord returns the first whitespace-delimited word of rest, without
// leading quotes or brackets.
func nextWord(rest []rune) string {
	word := strings.TrimLeft(string(rest), " ")
	if i := strings.IndexFunc(word, unicode.IsSpace); i >= 0 {
		word = word[:i]
	}
	return strings.TrimLeft(word, "(\"'“‘")
}
