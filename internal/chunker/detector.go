package chunker

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sha1n/mcp-tender-kb/internal/domain"
)

// MaxHeadingLevel bounds detected heading levels.
const MaxHeadingLevel = 6

// HeadingDetector decides whether a paragraph is a heading.
// Detect returns the heading level and the title with any numbering prefix
// removed, or ok=false when the paragraph is not a heading.
type HeadingDetector interface {
	Name() string
	Detect(p domain.Paragraph) (level int, title string, ok bool)
}

var (
	numericPrefix     = regexp.MustCompile(`^(\d+(?:\.\d+)*)[\s、.．]+(.+)$`)
	enumerationPrefix = regexp.MustCompile(`^([一二三四五六七八九十]+)[、.．]\s*(.+)$`)
	chapterPrefix     = regexp.MustCompile(`^第\s*([一二三四五六七八九十百零〇\d]+)\s*([章节篇部分]+)\s*(.*)$`)
	styleLevel        = regexp.MustCompile(`(?i)^(?:heading|标题)\s*(\d+)$`)
)

// DefaultDetectors returns the detectors in priority order.
func DefaultDetectors() []HeadingDetector {
	return []HeadingDetector{
		StyleDetector{},
		NumericDetector{},
		ChapterDetector{},
		EnumerationDetector{},
	}
}

// StyleDetector trusts paragraph styles such as "Heading 2".
type StyleDetector struct{}

func (StyleDetector) Name() string { return "style" }

func (StyleDetector) Detect(p domain.Paragraph) (int, string, bool) {
	m := styleLevel.FindStringSubmatch(strings.TrimSpace(p.Style))
	if m == nil {
		return 0, "", false
	}
	level, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}
	return clampLevel(level), NormalizeTitle(p.Text), true
}

// NumericDetector recognizes "1.2.3 Title"; the level is the segment count.
type NumericDetector struct{}

func (NumericDetector) Name() string { return "numeric" }

func (NumericDetector) Detect(p domain.Paragraph) (int, string, bool) {
	m := numericPrefix.FindStringSubmatch(strings.TrimSpace(p.Text))
	if m == nil {
		return 0, "", false
	}
	segments := strings.Split(m[1], ".")
	return clampLevel(len(segments)), strings.TrimSpace(m[2]), true
}

// ChapterDetector recognizes "第一章 Title" (level 1) and "第一节 Title" (level 2).
type ChapterDetector struct{}

func (ChapterDetector) Name() string { return "chapter" }

func (ChapterDetector) Detect(p domain.Paragraph) (int, string, bool) {
	text := strings.TrimSpace(p.Text)
	m := chapterPrefix.FindStringSubmatch(text)
	if m == nil {
		return 0, "", false
	}
	level := 1
	if strings.HasPrefix(m[2], "节") {
		level = 2
	}
	title := strings.TrimSpace(m[3])
	if title == "" {
		title = text
	}
	return level, title, true
}

// EnumerationDetector recognizes "一、Title" as a level 1 heading.
type EnumerationDetector struct{}

func (EnumerationDetector) Name() string { return "enumeration" }

func (EnumerationDetector) Detect(p domain.Paragraph) (int, string, bool) {
	m := enumerationPrefix.FindStringSubmatch(strings.TrimSpace(p.Text))
	if m == nil {
		return 0, "", false
	}
	return 1, strings.TrimSpace(m[2]), true
}

// NormalizeTitle strips a numeric, chapter or enumeration prefix from a heading.
func NormalizeTitle(text string) string {
	text = strings.TrimSpace(text)
	if m := numericPrefix.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[2])
	}
	if m := chapterPrefix.FindStringSubmatch(text); m != nil && strings.TrimSpace(m[3]) != "" {
		return strings.TrimSpace(m[3])
	}
	if m := enumerationPrefix.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[2])
	}
	return text
}

func clampLevel(level int) int {
	return max(1, min(level, MaxHeadingLevel))
}
