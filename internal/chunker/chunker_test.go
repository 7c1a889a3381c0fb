package chunker

import (
	"errors"
	"testing"

	"github.com/sha1n/mcp-tender-kb/internal/domain"
)

func paragraphs(lines ...string) []domain.Paragraph {
	out := make([]domain.Paragraph, len(lines))
	for i, ln := range lines {
		out[i] = domain.Paragraph{Text: ln}
	}
	return out
}

func TestChunk_ChapterAndNumericHeadings(t *testing.T) {
	blocks, err := New().Chunk(paragraphs(
		"第一章 总则",
		"本项目为服务采购。",
		"1.1 术语",
		"采购人：某单位",
		"第二章 采购范围",
		"范围说明",
	))
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}

	want := []string{"总则", "总则 / 术语", "采购范围"}
	if len(blocks) != len(want) {
		t.Fatalf("Expected %d blocks, got %d: %+v", len(want), len(blocks), blocks)
	}
	for i, path := range want {
		if blocks[i].SectionPath != path {
			t.Errorf("Block %d: section path = %q, want %q", i, blocks[i].SectionPath, path)
		}
	}
	if blocks[1].SectionTitle != "术语" || blocks[1].Content() != "采购人：某单位" {
		t.Errorf("Unexpected second block: %+v", blocks[1])
	}
}

func TestChunk_NoHeadingsYieldsSingleBodyBlock(t *testing.T) {
	blocks, err := New().Chunk(paragraphs("first line", "", "second line", "third line"))
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("Expected 1 block, got %d", len(blocks))
	}
	b := blocks[0]
	if b.SectionPath != domain.ImplicitSectionTitle || b.SectionTitle != domain.ImplicitSectionTitle {
		t.Errorf("Unexpected implicit block naming: %+v", b)
	}
	if len(b.Lines) != 3 {
		t.Errorf("Expected all 3 non-blank lines, got %d", len(b.Lines))
	}
	if b.StartIndex != 1 || b.EndIndex != 4 {
		t.Errorf("Expected indices 1..4, got %d..%d", b.StartIndex, b.EndIndex)
	}
}

func TestChunk_EmptyDocument(t *testing.T) {
	for _, input := range [][]domain.Paragraph{nil, paragraphs("", "   ", "\t")} {
		_, err := New().Chunk(input)
		if !errors.Is(err, domain.ErrEmptyDocument) {
			t.Errorf("Expected ErrEmptyDocument, got %v", err)
		}
	}
}

func TestChunk_OrderingAndNoOverlap(t *testing.T) {
	blocks, err := New().Chunk(paragraphs(
		"intro",
		"1 Scope",
		"",
		"text a",
		"1.1 Detail",
		"1.1.1 Deeper",
		"text b",
		"2 Next",
		"一、Appendix",
		"text c",
	))
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}

	prevEnd := 0
	for i, b := range blocks {
		if b.StartIndex > b.EndIndex {
			t.Errorf("Block %d: start %d > end %d", i, b.StartIndex, b.EndIndex)
		}
		if b.StartIndex <= prevEnd {
			t.Errorf("Block %d starts at %d, overlapping previous end %d", i, b.StartIndex, prevEnd)
		}
		if b.SectionPath == "" {
			t.Errorf("Block %d has empty section path", i)
		}
		prevEnd = b.EndIndex
	}

	paths := []string{"正文", "Scope", "Scope / Detail", "Scope / Detail / Deeper", "Next", "Appendix"}
	if len(blocks) != len(paths) {
		t.Fatalf("Expected %d blocks, got %d", len(paths), len(blocks))
	}
	for i, p := range paths {
		if blocks[i].SectionPath != p {
			t.Errorf("Block %d path = %q, want %q", i, blocks[i].SectionPath, p)
		}
	}
	if blocks[1].EndIndex != 4 {
		t.Errorf("Expected Scope block to end at paragraph 4, got %d", blocks[1].EndIndex)
	}
}

func TestChunk_HeadingWithoutBodyHasEmptyContent(t *testing.T) {
	blocks, err := New().Chunk(paragraphs("1 Only heading"))
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	if len(blocks) != 1 || blocks[0].Content() != "" {
		t.Errorf("Expected one empty-content block, got %+v", blocks)
	}
}

func TestChunk_StyleTakesPriority(t *testing.T) {
	input := []domain.Paragraph{
		{Text: "Overview", Style: "Heading 1"},
		{Text: "2.3 Costs", Style: "Heading 2"},
		{Text: "body"},
	}
	blocks, err := New().Chunk(input)
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("Expected 2 blocks, got %d", len(blocks))
	}
	// Style level 2 wins over the two-segment numeric prefix, and the prefix is stripped.
	if blocks[1].SectionPath != "Overview / Costs" {
		t.Errorf("Unexpected path %q", blocks[1].SectionPath)
	}
}

func TestDetectors(t *testing.T) {
	tests := []struct {
		name      string
		detector  HeadingDetector
		para      domain.Paragraph
		wantOK    bool
		wantLevel int
		wantTitle string
	}{
		{"style heading", StyleDetector{}, domain.Paragraph{Text: "一、概述", Style: "Heading 3"}, true, 3, "概述"},
		{"style compact id", StyleDetector{}, domain.Paragraph{Text: "X", Style: "Heading9"}, true, 6, "X"},
		{"style chinese", StyleDetector{}, domain.Paragraph{Text: "X", Style: "标题 2"}, true, 2, "X"},
		{"style body", StyleDetector{}, domain.Paragraph{Text: "X", Style: "Normal"}, false, 0, ""},
		{"numeric three", NumericDetector{}, domain.Paragraph{Text: "1.2.3 Title"}, true, 3, "Title"},
		{"numeric deep clamped", NumericDetector{}, domain.Paragraph{Text: "1.2.3.4.5.6.7 Deep"}, true, 6, "Deep"},
		{"numeric cjk comma", NumericDetector{}, domain.Paragraph{Text: "3、资格要求"}, true, 1, "资格要求"},
		{"numeric none", NumericDetector{}, domain.Paragraph{Text: "2024年"}, false, 0, ""},
		{"chapter", ChapterDetector{}, domain.Paragraph{Text: "第十二章 附件"}, true, 1, "附件"},
		{"section", ChapterDetector{}, domain.Paragraph{Text: "第一节 说明"}, true, 2, "说明"},
		{"enumeration", EnumerationDetector{}, domain.Paragraph{Text: "三、评分办法"}, true, 1, "评分办法"},
		{"enumeration none", EnumerationDetector{}, domain.Paragraph{Text: "三个月内完成"}, false, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, title, ok := tt.detector.Detect(tt.para)
			if ok != tt.wantOK {
				t.Fatalf("Detect() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if level != tt.wantLevel || title != tt.wantTitle {
				t.Errorf("Detect() = (%d, %q), want (%d, %q)", level, title, tt.wantLevel, tt.wantTitle)
			}
		})
	}
}

func TestFromText(t *testing.T) {
	got := FromText("a\r\nb\rc\n")
	if len(got) != 4 || got[0].Text != "a" || got[1].Text != "b" || got[2].Text != "c" || got[3].Text != "" {
		t.Errorf("Unexpected paragraphs: %+v", got)
	}
}
