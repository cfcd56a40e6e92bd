package research

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"golang.org/x/sync/errgroup"

	"github.com/mikeboe/deep-research/pkg/splitter"
)

const (
	compressChunkSize    = 12000
	compressChunkOverlap = 400
	compressParallelism  = 3
)

// LLMCompressor condenses accumulated notes chunk by chunk. The result keeps
// the union of all search queries so provenance survives compression.
type LLMCompressor struct {
	Gateway  *Gateway
	Splitter *splitter.TextSplitter
}

func NewLLMCompressor(gw *Gateway) *LLMCompressor {
	return &LLMCompressor{
		Gateway:  gw,
		Splitter: splitter.NewRecursiveCharacterTextSplitter(compressChunkSize, compressChunkOverlap),
	}
}

func (c *LLMCompressor) Compress(ctx context.Context, query string, notes []ResearchNote) ([]ResearchNote, error) {
	if len(notes) == 0 {
		return nil, errors.New("no notes to compress")
	}

	chunks, err := c.Splitter.SplitText(renderNotes(notes))
	if err != nil {
		return nil, fmt.Errorf("failed to split notes: %w", err)
	}

	condensed := make([]string, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(compressParallelism)
	for i, chunk := range chunks {
		g.Go(func() error {
			text, err := c.Gateway.GenerateText(gctx, []llms.MessageContent{
				systemMessage(compressorSystemPrompt),
				humanMessage(fmt.Sprintf("Research question: %s\n\nNotes:\n%s", query, chunk)),
			})
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i+1, err)
			}
			condensed[i] = strings.TrimSpace(text)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Chunks do not map back to single notes, so every part carries the full
	// source list. Queries are merged once onto the first part.
	sources := mergeSources(notes)
	out := make([]ResearchNote, 0, len(condensed))
	for i, text := range condensed {
		out = append(out, ResearchNote{
			SubQuestion: fmt.Sprintf("Condensed findings (part %d of %d)", i+1, len(condensed)),
			Findings:    text,
			Sources:     sources,
		})
	}
	out[0].Queries = mergeQueries(notes)
	return out, nil
}

// mergeSources lists the sub-questions behind notes in first-seen order,
// expanding notes that were themselves condensed.
func mergeSources(notes []ResearchNote) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(q string) {
		if q != "" && !seen[q] {
			seen[q] = true
			out = append(out, q)
		}
	}
	for _, n := range notes {
		if len(n.Sources) == 0 {
			add(n.SubQuestion)
			continue
		}
		for _, src := range n.Sources {
			add(src)
		}
	}
	return out
}

func mergeQueries(notes []ResearchNote) []string {
	seen := make(map[string]bool)
	var out []string
	for _, n := range notes {
		for _, q := range n.Queries {
			if !seen[q] {
				seen[q] = true
				out = append(out, q)
			}
		}
	}
	return out
}
