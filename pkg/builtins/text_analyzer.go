package builtins

import (
	"context"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TextAnalyzer handles tool_text_analyzer.
func TextAnalyzer(ctx context.Context, args map[string]any) (any, error) {
	text := stringArg(args, "text")
	topN := intArg(args, "top_n", 5)
	if topN < 0 {
		topN = 0
	}

	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})

	freq := make(map[string]int, len(words))
	for _, w := range words {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		freq[strings.ToLower(w)]++
	}

	type wordCount struct {
		word  string
		count int
	}
	counts := make([]wordCount, 0, len(freq))
	for w, c := range freq {
		counts = append(counts, wordCount{w, c})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].count != counts[j].count {
			return counts[i].count > counts[j].count
		}
		return counts[i].word < counts[j].word
	})
	if len(counts) > topN {
		counts = counts[:topN]
	}
	top := make([]any, 0, len(counts))
	for _, wc := range counts {
		top = append(top, map[string]any{"word": wc.word, "count": wc.count})
	}

	lines := 0
	if text != "" {
		lines = strings.Count(text, "\n") + 1
	}

	return ok(map[string]any{
		"characters": utf8.RuneCountInString(text),
		"words":      len(words),
		"lines":      lines,
		"sentences":  countSentences(text),
		"top_words":  top,
	}), nil
}

func countSentences(text string) int {
	n := 0
	inSentence := false
	for _, r := range text {
		switch {
		case r == '.' || r == '!' || r == '?':
			if inSentence {
				n++
				inSentence = false
			}
		case !unicode.IsSpace(r):
			inSentence = true
		}
	}
	if inSentence {
		n++
	}
	return n
}
