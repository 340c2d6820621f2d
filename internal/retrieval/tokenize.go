// Package retrieval implements the Learning Substrate's search surface
// (spec.md §4.2): BM25 Okapi ranking with a Korean-suffix-stripping
// tokenizer and optional hybrid BM25+vector MMR re-ranking. Graph-memory
// context retrieval lives in internal/graphmem. No teacher file implements search ranking; built
// fresh following the spec's exact formulas.
package retrieval

import (
	"regexp"
	"strings"
)

var wordSplitRe = regexp.MustCompile(`[^\p{L}\p{N}_]+`)

// koreanSuffixes is the small closed set of grammatical particles stripped
// by the tokenizer (spec.md §4.2 "Korean particle stripping").
var koreanSuffixes = []string{
	"은", "는", "이", "가", "을", "를", "에게", "에서", "으로", "로", "와", "과", "도", "만",
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "of": true, "to": true, "in": true,
	"on": true, "at": true, "for": true, "and": true, "or": true, "but": true,
	"with": true, "it": true, "this": true, "that": true, "as": true,
}

// Tokenize lowercases, splits on non-word characters, filters tokens of
// length < 2, strips Korean particle suffixes (keeping both forms for
// recall), and removes stopwords.
func Tokenize(text string) []string {
	lower := strings.ToLower(text)
	raw := wordSplitRe.Split(lower, -1)

	tokens := make([]string, 0, len(raw)*2)
	for _, tok := range raw {
		if len([]rune(tok)) < 2 {
			continue
		}
		if stopwords[tok] {
			continue
		}
		tokens = append(tokens, tok)
		if stripped := stripKoreanSuffix(tok); stripped != tok {
			tokens = append(tokens, stripped)
		}
	}
	return tokens
}

func stripKoreanSuffix(tok string) string {
	for _, suf := range koreanSuffixes {
		if strings.HasSuffix(tok, suf) && len([]rune(tok)) > len([]rune(suf))+1 {
			return strings.TrimSuffix(tok, suf)
		}
	}
	return tok
}
