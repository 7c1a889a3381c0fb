package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/sha1n/mcp-tender-kb/internal/domain"
	"github.com/sha1n/mcp-tender-kb/internal/store"
)

const (
	maxTermRunes = 48
	maxTerms     = 12

	DefaultTopN       = 3
	MaxTopN           = 10
	DefaultExcerptLen = 800
	MinExcerptLen     = 200
	MaxExcerptLen     = 5000
)

// DefaultAcronymPatterns match certification and capability codes that are
// worth searching for on their own.
var DefaultAcronymPatterns = []string{`ISO\d{4,5}`, `CMMI\s*\d*`, `ASR`, `OCR`, `TTS`, `MOS`}

var (
	scoreSuffix     = regexp.MustCompile(`（\s*\d+\s*分\s*）|\(\s*\d+\s*分\s*\)`)
	enumerationMark = regexp.MustCompile(`^\s*\d+[、.]\s*`)
	whitespace      = regexp.MustCompile(`\s+`)
)

// EvidenceOptions controls evidence retrieval. Zero values select defaults.
type EvidenceOptions struct {
	Tag        *string
	TopN       int
	ExcerptLen int
}

// ExtractTerms derives search terms from a template row: the major category
// without its score annotation, acronyms from the minor category and rule,
// and each line of the evidence materials.
func (r *Retriever) ExtractTerms(row domain.TemplateRow) []string {
	var terms []string

	if major := strings.TrimSpace(scoreSuffix.ReplaceAllString(collapse(row.ScoreMajor), "")); major != "" {
		terms = append(terms, major)
	}

	if r.acronyms != nil {
		terms = append(terms, r.acronyms.FindAllString(collapse(row.ScoreMinor)+" "+collapse(row.ScoreRule), -1)...)
	}

	for _, line := range strings.Split(strings.ReplaceAll(row.EvidenceMaterials, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(enumerationMark.ReplaceAllString(collapse(line), ""))
		if utf8.RuneCountInString(line) >= 2 {
			terms = append(terms, line)
		}
	}

	seen := make(map[string]bool, len(terms))
	out := make([]string, 0, maxTerms)
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" || utf8.RuneCountInString(t) > maxTermRunes {
			continue
		}
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
		if len(out) == maxTerms {
			break
		}
	}
	return out
}

// RetrieveEvidence returns the best matching blocks for a template row. A row
// that yields no search terms returns an empty list.
func (r *Retriever) RetrieveEvidence(ctx context.Context, row domain.TemplateRow, opts EvidenceOptions) ([]domain.EvidenceHit, error) {
	topN := opts.TopN
	if topN == 0 {
		topN = DefaultTopN
	}
	topN = max(1, min(topN, MaxTopN))
	excerptLen := opts.ExcerptLen
	if excerptLen == 0 {
		excerptLen = DefaultExcerptLen
	}
	excerptLen = max(MinExcerptLen, min(excerptLen, MaxExcerptLen))

	terms := r.ExtractTerms(row)
	if len(terms) == 0 {
		return []domain.EvidenceHit{}, nil
	}

	blocks, err := r.blocks.FindBlocks(ctx, store.BlockQuery{Tag: opts.Tag, AnyTerm: terms})
	if err != nil {
		return nil, fmt.Errorf("failed to load evidence candidates: %w", err)
	}

	items := make([]domain.SearchItem, 0, len(blocks))
	for _, b := range blocks {
		score, matched := 0, false
		for _, t := range terms {
			if containsFold(b.SectionTitle, t) {
				score += r.cfg.EvidenceTitleWeight
				matched = true
			}
			if containsFold(b.ContentText, t) {
				score += r.cfg.EvidenceContentWeight
				matched = true
			}
		}
		if matched {
			items = append(items, toItem(b, score))
		}
	}
	SortItems(items)

	hits := make([]domain.EvidenceHit, 0, min(topN, len(items)))
	for _, it := range items[:min(topN, len(items))] {
		hits = append(hits, domain.EvidenceHit{SearchItem: it, Excerpt: Excerpt(it.ContentText, excerptLen)})
	}
	return hits, nil
}

// Excerpt returns the first n runes of the trimmed text.
func Excerpt(text string, n int) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return string(runes[:n])
}

func collapse(s string) string {
	return whitespace.ReplaceAllString(strings.TrimSpace(s), " ")
}

func compileAcronyms(patterns []string) (*regexp.Regexp, error) {
	var parts []string
	for _, p := range patterns {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, "(?:"+p+")")
		}
	}
	if len(parts) == 0 {
		return nil, nil
	}
	re, err := regexp.Compile(`(?i)` + strings.Join(parts, "|"))
	if err != nil {
		return nil, fmt.Errorf("invalid acronym pattern: %w", err)
	}
	return re, nil
}
