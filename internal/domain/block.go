package domain

import (
	"strings"
	"time"
)

// ImplicitSectionTitle is the section title of blocks opened by body text
// that precedes any heading.
const ImplicitSectionTitle = "正文"

// SectionPathSeparator joins the heading stack into a section path.
const SectionPathSeparator = " / "

// Paragraph is one paragraph of a source document in reading order.
// Style carries the paragraph style name when the source format has one.
type Paragraph struct {
	Text  string `json:"text"`
	Style string `json:"style,omitempty"`
}

// Document is the owner of a set of blocks derived from one source file.
type Document struct {
	ID        string    `json:"id"`
	FileID    string    `json:"file_id,omitempty"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`

	// BlockCount is populated by listing queries only.
	BlockCount int `json:"block_count,omitempty"`
}

// Block is an addressable chunk of a source document.
type Block struct {
	ID           string    `json:"id"`
	DocID        string    `json:"doc_id"`
	Tag          *string   `json:"tag,omitempty"`
	SectionTitle string    `json:"section_title"`
	SectionPath  string    `json:"section_path"`
	ContentText  string    `json:"content_text"`
	StartIndex   int       `json:"start_index"`
	EndIndex     int       `json:"end_index"`
	RenderedPath string    `json:"rendered_path,omitempty"`
	CreatedAt    time.Time `json:"created_at"`

	// DocTitle is the owner document title, filled on reads.
	DocTitle string `json:"doc_title,omitempty"`
}

// TagValue returns the block tag or an empty string when untagged.
func (b Block) TagValue() string {
	if b.Tag == nil {
		return ""
	}
	return *b.Tag
}

// BlockDraft is a chunker result that has not been persisted yet.
type BlockDraft struct {
	SectionTitle string
	SectionPath  string
	Heading      string
	Lines        []string
	StartIndex   int
	EndIndex     int
}

// Content joins the draft body lines.
func (d BlockDraft) Content() string {
	return strings.Join(d.Lines, "\n")
}

// SearchItem is one scored block in a search result.
type SearchItem struct {
	BlockID      string    `json:"block_id"`
	DocID        string    `json:"doc_id"`
	DocTitle     string    `json:"doc_title,omitempty"`
	Tag          string    `json:"tag,omitempty"`
	Score        int       `json:"score"`
	SectionTitle string    `json:"section_title"`
	SectionPath  string    `json:"section_path"`
	ContentText  string    `json:"content_text"`
	StartIndex   int       `json:"start_index"`
	EndIndex     int       `json:"end_index"`
	RenderedPath string    `json:"rendered_path,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// SearchPage is a paginated search result.
type SearchPage struct {
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
	Total    int          `json:"total"`
	Items    []SearchItem `json:"items"`
}

// EvidenceHit is a block proposed as supporting material for a template row.
type EvidenceHit struct {
	SearchItem
	Excerpt string `json:"excerpt"`
}

// TemplateRow is one scoring-rubric entry read from a score template.
type TemplateRow struct {
	ScoreMajor        string `json:"score_major"`
	ScoreMinor        string `json:"score_minor,omitempty"`
	ScoreRule         string `json:"score_rule,omitempty"`
	EvidenceMaterials string `json:"evidence,omitempty"`
	Pages             string `json:"pages,omitempty"`
}

// Bleve field names for the block index.
const (
	BlockFieldDocID        = "doc_id"
	BlockFieldTag          = "tag"
	BlockFieldSectionTitle = "section_title"
	BlockFieldSectionPath  = "section_path"
	BlockFieldContent      = "content"
)
