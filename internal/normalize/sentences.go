package normalize

import (
	"strings"
	"unicode"
)

// Abbreviations common in radiology reports that end with a period but do
// not end a sentence. Compared lowercase against the token preceding the
// period.
var abbreviations = map[string]struct{}{
	"cm":     {},
	"mm":     {},
	"dr":     {},
	"mr":     {},
	"ms":     {},
	"vs":     {},
	"approx": {},
	"pt":     {},
	"hx":     {},
	"fx":     {},
	"r/o":    {},
	"s/p":    {},
	"no":     {}, // "No. 3"
	"fig":    {},
	"e.g":    {},
	"i.e":    {},
}

// SplitSentences splits a text block on sentence boundaries, tolerating
// abbreviations and decimal measurements ("1.2 cm nodule"). It never
// returns empty sentences.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var out []string
	var b strings.Builder
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		b.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if r == '.' && !boundaryAfterPeriod(runes, i) {
			continue
		}
		if s := strings.TrimSpace(b.String()); s != "" {
			out = append(out, s)
		}
		b.Reset()
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// boundaryAfterPeriod decides whether the period at idx terminates a
// sentence.
func boundaryAfterPeriod(runes []rune, idx int) bool {
	// decimal number: digit on both sides
	if idx > 0 && idx+1 < len(runes) &&
		unicode.IsDigit(runes[idx-1]) && unicode.IsDigit(runes[idx+1]) {
		return false
	}
	// next non-space rune must start a new sentence (uppercase or digit);
	// end of text always terminates
	j := idx + 1
	for j < len(runes) && runes[j] == ' ' {
		j++
	}
	if j < len(runes) && !unicode.IsUpper(runes[j]) && !unicode.IsDigit(runes[j]) {
		return false
	}
	// abbreviation check on the word before the period
	start := idx
	for start > 0 && !unicode.IsSpace(runes[start-1]) {
		start--
	}
	word := strings.ToLower(strings.TrimRight(string(runes[start:idx]), "."))
	if _, ok := abbreviations[word]; ok {
		return false
	}
	return true
}
