package chunker

import (
	"fmt"
	"strings"

	"github.com/sha1n/mcp-tender-kb/internal/domain"
)

// Chunker splits a paragraph stream into blocks at detected headings.
type Chunker struct {
	detectors []HeadingDetector
}

// New creates a chunker that tries detectors in the given order.
// With no detectors, DefaultDetectors is used.
func New(detectors ...HeadingDetector) *Chunker {
	if len(detectors) == 0 {
		detectors = DefaultDetectors()
	}
	return &Chunker{detectors: detectors}
}

// Chunk groups paragraphs into block drafts. Paragraph indices are 1-based
// positions in the input, blank paragraphs included.
func (c *Chunker) Chunk(paragraphs []domain.Paragraph) ([]domain.BlockDraft, error) {
	var (
		blocks  []domain.BlockDraft
		stack   []string
		current *domain.BlockDraft
	)

	for i, p := range paragraphs {
		idx := i + 1
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		p.Text = text

		if level, title, ok := c.detect(p); ok {
			if current != nil {
				blocks = append(blocks, *current)
			}
			if title == "" {
				title = fmt.Sprintf("Section %d", idx)
			}
			stack = append(stack[:min(level-1, len(stack))], title)
			current = &domain.BlockDraft{
				SectionTitle: title,
				SectionPath:  strings.Join(stack, domain.SectionPathSeparator),
				Heading:      text,
				StartIndex:   idx,
				EndIndex:     idx,
			}
			continue
		}

		if current == nil {
			current = &domain.BlockDraft{
				SectionTitle: domain.ImplicitSectionTitle,
				SectionPath:  domain.ImplicitSectionTitle,
				StartIndex:   idx,
				EndIndex:     idx,
			}
		}
		current.Lines = append(current.Lines, text)
		current.EndIndex = idx
	}

	if current != nil {
		blocks = append(blocks, *current)
	}
	if len(blocks) == 0 {
		return nil, domain.Errorf(domain.ErrEmptyDocument, "no non-blank paragraphs")
	}
	return blocks, nil
}

func (c *Chunker) detect(p domain.Paragraph) (int, string, bool) {
	for _, d := range c.detectors {
		if level, title, ok := d.Detect(p); ok {
			return level, title, true
		}
	}
	return 0, "", false
}

// FromText splits plain text into one paragraph per line.
func FromText(text string) []domain.Paragraph {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	out := make([]domain.Paragraph, len(lines))
	for i, ln := range lines {
		out[i] = domain.Paragraph{Text: ln}
	}
	return out
}
