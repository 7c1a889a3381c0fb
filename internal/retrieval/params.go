package retrieval

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sha1n/mcp-tender-kb/internal/domain"
)

const (
	DefaultPage     = 1
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// SearchParams are validated search inputs.
type SearchParams struct {
	Query         *string
	Tag           *string
	TitleKeywords []string
	Page          int
	PageSize      int
	TopK          *int
}

// RawSearchParams carries untyped caller input as decoded from JSON.
type RawSearchParams struct {
	Query         string `json:"query,omitempty" jsonschema:"Substring that block content must contain"`
	Tag           string `json:"tag,omitempty" jsonschema:"Exact block tag filter"`
	TitleKeywords any    `json:"title_keywords,omitempty" jsonschema:"Array of keywords that boost blocks whose section or document title contains them"`
	Page          any    `json:"page,omitempty" jsonschema:"1-based page number"`
	PageSize      any    `json:"page_size,omitempty" jsonschema:"Items per page (1-100)"`
	TopK          any    `json:"top_k,omitempty" jsonschema:"Cap on the total number of results"`
}

// ParseSearchParams coerces raw input into SearchParams. Paging values may be
// integers, integral floats or numeric strings; anything else is rejected.
func ParseSearchParams(raw RawSearchParams) (SearchParams, error) {
	var p SearchParams

	if q := strings.TrimSpace(raw.Query); q != "" {
		p.Query = &q
	}
	if tag := strings.TrimSpace(raw.Tag); tag != "" {
		p.Tag = &tag
	}

	keywords, err := coerceStrings("title_keywords", raw.TitleKeywords)
	if err != nil {
		return SearchParams{}, err
	}
	p.TitleKeywords = keywords

	page, ok, err := coerceInt("page", raw.Page)
	if err != nil {
		return SearchParams{}, err
	}
	if !ok {
		page = DefaultPage
	}
	size, ok, err := coerceInt("page_size", raw.PageSize)
	if err != nil {
		return SearchParams{}, err
	}
	if !ok {
		size = DefaultPageSize
	}
	p.Page, p.PageSize = clampPaging(page, size)

	topK, ok, err := coerceInt("top_k", raw.TopK)
	if err != nil {
		return SearchParams{}, err
	}
	// top_k 0 means no cap.
	if ok && topK != 0 {
		if topK < 0 {
			return SearchParams{}, domain.Errorf(domain.ErrInvalidArgument, "top_k must not be negative, got %d", topK)
		}
		p.TopK = &topK
	}
	return p, nil
}

func clampPaging(page, size int) (int, int) {
	return max(page, 1), max(1, min(size, MaxPageSize))
}

func coerceInt(name string, v any) (int, bool, error) {
	switch n := v.(type) {
	case nil:
		return 0, false, nil
	case int:
		return n, true, nil
	case int32:
		return int(n), true, nil
	case int64:
		return int(n), true, nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, false, domain.Errorf(domain.ErrInvalidArgument, "%s must be an integer, got %v", name, n)
		}
		return int(n), true, nil
	case json.Number:
		i, err := strconv.Atoi(n.String())
		if err != nil {
			return 0, false, domain.Errorf(domain.ErrInvalidArgument, "%s must be an integer, got %q", name, n)
		}
		return i, true, nil
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false, nil
		}
		i, err := strconv.Atoi(s)
		if err != nil {
			return 0, false, domain.Errorf(domain.ErrInvalidArgument, "%s must be an integer, got %q", name, n)
		}
		return i, true, nil
	default:
		return 0, false, domain.Errorf(domain.ErrInvalidArgument, "%s must be an integer, got %s", name, fmt.Sprintf("%T", v))
	}
}

func coerceStrings(name string, v any) ([]string, error) {
	var items []any
	switch arr := v.(type) {
	case nil:
		return nil, nil
	case []string:
		for _, s := range arr {
			items = append(items, s)
		}
	case []any:
		items = arr
	default:
		return nil, domain.Errorf(domain.ErrInvalidArgument, "%s must be an array, got %T", name, v)
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, domain.Errorf(domain.ErrInvalidArgument, "%s must contain strings, got %T", name, item)
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
