// Package splitter chunks accumulated research notes so each chunk fits one
// condensing call.
package splitter

import (
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// NoteSeparators prefer note headings, then paragraphs, lines and words.
var NoteSeparators = []string{"\n## ", "\n\n", "\n", " ", ""}

// TextSplitter wraps the langchaingo recursive character splitter
type TextSplitter struct {
	splitter textsplitter.TextSplitter
}

// NewRecursiveCharacterTextSplitter creates a splitter that keeps chunks
// under chunkSize characters, overlapping neighbours by chunkOverlap.
func NewRecursiveCharacterTextSplitter(chunkSize, chunkOverlap int) *TextSplitter {
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 10
	}
	ts := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
		textsplitter.WithSeparators(NoteSeparators),
	)

	return &TextSplitter{splitter: ts}
}

// SplitText splits text into non-blank chunks. Blank input yields no chunks.
func (ts *TextSplitter) SplitText(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	chunks, err := ts.splitter.SplitText(text)
	if err != nil {
		return nil, err
	}
	out := chunks[:0]
	for _, c := range chunks {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out, nil
}
