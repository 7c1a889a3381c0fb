package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sha1n/mcp-tender-kb/internal/domain"
	"gopkg.in/yaml.v3"
)

// DefaultSectionTopK is used when a section does not set pick.top_k.
const DefaultSectionTopK = 20

var templateKey = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Template is a report layout: an ordered list of sections, each selecting
// blocks by tag and title keywords.
type Template struct {
	ID          string    `yaml:"template_id,omitempty" json:"template_id,omitempty"`
	Version     string    `yaml:"version,omitempty" json:"version,omitempty"`
	Title       string    `yaml:"title,omitempty" json:"title,omitempty"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	Sections    []Section `yaml:"sections" json:"sections"`
}

// Section is one report chapter.
type Section struct {
	Title string `yaml:"title,omitempty" json:"title,omitempty"`
	Pick  *Pick  `yaml:"pick,omitempty" json:"pick,omitempty"`
}

// Pick selects the blocks of a section.
type Pick struct {
	ByTag                 []string `yaml:"by_tag,omitempty" json:"by_tag,omitempty"`
	FallbackTitleKeywords []string `yaml:"fallback_title_keywords,omitempty" json:"fallback_title_keywords,omitempty"`
	TopK                  *int     `yaml:"top_k,omitempty" json:"top_k,omitempty"`
}

// Tags returns the trimmed non-empty tags of the pick.
func (p *Pick) Tags() []string {
	if p == nil {
		return nil
	}
	return nonEmpty(p.ByTag)
}

// Keywords returns the trimmed non-empty title keywords of the pick.
func (p *Pick) Keywords() []string {
	if p == nil {
		return nil
	}
	return nonEmpty(p.FallbackTitleKeywords)
}

// Limit returns top_k or DefaultSectionTopK.
func (p *Pick) Limit() int {
	if p == nil || p.TopK == nil {
		return DefaultSectionTopK
	}
	return *p.TopK
}

// Registry loads templates from files named <id>_<version>.yaml|yml|json.
type Registry struct {
	dir string
}

// NewRegistry creates a registry over dir. The directory need not exist yet.
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir}
}

// Get loads and validates a template.
func (r *Registry) Get(id, version string) (Template, error) {
	id, version = strings.TrimSpace(id), strings.TrimSpace(version)
	if id == "" || version == "" {
		return Template{}, domain.Errorf(domain.ErrInvalidArgument, "template_id and version are required")
	}
	if !templateKey.MatchString(id) || !templateKey.MatchString(version) || strings.Contains(id, "..") || strings.Contains(version, "..") {
		return Template{}, domain.Errorf(domain.ErrInvalidArgument, "invalid template key %q@%q", id, version)
	}

	for _, ext := range []string{".yaml", ".yml", ".json"} {
		name := id + "_" + version + ext
		data, err := os.ReadFile(filepath.Join(r.dir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return Template{}, fmt.Errorf("failed to read template %s: %w", name, err)
		}

		tpl, err := ParseTemplate(name, data)
		if err != nil {
			return Template{}, err
		}
		if tpl.ID == "" {
			tpl.ID = id
		}
		if tpl.Version == "" {
			tpl.Version = version
		}
		return tpl, nil
	}
	return Template{}, domain.Errorf(domain.ErrTemplateNotFound, "template not found: %s@%s", id, version)
}

// ParseTemplate decodes and validates a template. The format follows the file
// extension of name. Unknown keys are rejected.
func ParseTemplate(name string, data []byte) (Template, error) {
	var tpl Template
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&tpl); err != nil && !errors.Is(err, io.EOF) {
			return Template{}, domain.Errorf(domain.ErrInvalidArgument, "%s: invalid yaml: %v", name, err)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&tpl); err != nil {
			return Template{}, domain.Errorf(domain.ErrInvalidArgument, "%s: invalid json: %v", name, err)
		}
	default:
		return Template{}, domain.Errorf(domain.ErrUnsupportedFormat, "unsupported template type: %s", name)
	}

	if err := tpl.Validate(); err != nil {
		return Template{}, domain.Errorf(domain.ErrInvalidArgument, "%s: %v", name, err)
	}
	return tpl, nil
}

// Validate checks the structural rules decoding alone cannot enforce.
func (t Template) Validate() error {
	if len(t.Sections) == 0 {
		return errors.New("sections must be a non-empty array")
	}
	for i, s := range t.Sections {
		if s.Pick != nil && s.Pick.TopK != nil && *s.Pick.TopK < 1 {
			return fmt.Errorf("sections[%d].pick.top_k must be positive", i)
		}
	}
	return nil
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
