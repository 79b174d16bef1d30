// Copyright 2026 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package normalize

import (
	"strings"
	"unicode"
)

// Expander performs dictionary-driven abbreviation expansion on free text.
// Lookups are case-insensitive and match whole words only, so "RES" expands
// while "RESIN" does not. Safe for concurrent use after construction.
type Expander struct {
	terms map[string]string
}

// NewExpander builds an Expander from an abbreviation dictionary. Keys are
// matched case-insensitively; values are substituted as-is.
func NewExpander(dictionary map[string]string) *Expander {
	terms := make(map[string]string, len(dictionary))
	for k, v := range dictionary {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		terms[strings.ToUpper(k)] = v
	}
	return &Expander{terms: terms}
}

// Len returns the number of dictionary entries.
func (e *Expander) Len() int {
	return len(e.terms)
}

// Expand returns text with every whole-word dictionary match replaced by
// its expansion. Punctuation and spacing are preserved. The input is never
// modified; callers keep the original for storage.
func (e *Expander) Expand(text string) string {
	if len(e.terms) == 0 || text == "" {
		return text
	}

	var b strings.Builder
	b.Grow(len(text) + len(text)/4)

	runes := []rune(text)
	i := 0
	for i < len(runes) {
		if !isWordRune(runes[i]) {
			b.WriteRune(runes[i])
			i++
			continue
		}

		j := i
		for j < len(runes) && isWordRune(runes[j]) {
			j++
		}
		word := string(runes[i:j])
		if expansion, ok := e.terms[strings.ToUpper(word)]; ok {
			b.WriteString(expansion)
		} else {
			b.WriteString(word)
		}
		i = j
	}

	return b.String()
}

// Clean collapses runs of whitespace into single spaces and strips
// control characters. Applied before expansion so dictionary matching
// sees well-formed words.
func Clean(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	space := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			space = true
		case unicode.IsControl(r):
			// drop
		default:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

// EmbedText produces the text sent to the embedding service for a record.
// Expansion applies only when cleaning is enabled for the job and the
// record has not opted out of expansion.
func (e *Expander) EmbedText(text string, cleanEnabled, noExpand bool) string {
	if !cleanEnabled {
		return text
	}
	cleaned := Clean(text)
	if noExpand {
		return cleaned
	}
	return e.Expand(cleaned)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
