// Package analyzer counts pattern matches in page text and pulls the
// sentences around them for human review.
package analyzer

import (
	"regexp"
	"strings"
	"unicode"
)

// Excerpt is one matched fragment with its surrounding sentence.
type Excerpt struct {
	Match    string `json:"match"`
	Sentence string `json:"sentence"`
}

// Count returns how many times pattern occurs in text.
func Count(text string, pattern *regexp.Regexp) int {
	return len(pattern.FindAllStringIndex(text, -1))
}

// Excerpts returns up to max matched fragments paired with the sentence each
// occurred in. max <= 0 means no cap.
func Excerpts(text string, pattern *regexp.Regexp, max int) []Excerpt {
	if len(text) == 0 {
		return nil
	}

	var excerpts []Excerpt
	for _, sentence := range splitSentences(text) {
		for _, m := range pattern.FindAllString(sentence, -1) {
			excerpts = append(excerpts, Excerpt{Match: m, Sentence: sentence})
			if max > 0 && len(excerpts) >= max {
				return excerpts
			}
		}
	}
	return excerpts
}

// splitSentences naively splits text on '.', '!' or '?', keeping the
// delimiter at the end of each sentence.
func splitSentences(text string) []string {
	// Estimate sentence count: roughly 1 sentence per 50 chars average
	estimated := len(text) / 50
	if estimated < 1 {
		estimated = 1
	}

	sentences := make([]string, 0, estimated)
	start := 0

	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			// Include the delimiter
			end := i + 1
			// Include following whitespace
			for end < len(text) && unicode.IsSpace(rune(text[end])) {
				end++
			}
			if s := strings.TrimSpace(text[start:end]); s != "" {
				sentences = append(sentences, s)
			}
			start = end
		}
	}

	// Capture any trailing text
	if start < len(text) {
		if s := strings.TrimSpace(text[start:]); s != "" {
			sentences = append(sentences, s)
		}
	}

	return sentences
}
