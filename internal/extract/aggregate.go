package extract

import (
	"regexp"
	"strings"

	"github.com/sha1n/mcp-tender-kb/internal/domain"
)

const uncategorized = "其他"

var pageLocator = regexp.MustCompile(`Page:\d+(?: \(line:\d+\))?`)

// Aggregate groups rows by category in first-seen order. The summary joins the
// values; references collect the distinct page locators found in values and
// sources, falling back to the raw source labels when no locator is present.
func Aggregate(rows []domain.RequirementRow) []domain.AggregatedRequirement {
	type group struct {
		values []string
		refs   []string
		seen   map[string]bool
		labels []string
	}
	groups := map[string]*group{}
	var order []string

	for _, r := range rows {
		cat := strings.TrimSpace(r.Category)
		if cat == "" {
			cat = uncategorized
		}
		g, ok := groups[cat]
		if !ok {
			g = &group{seen: map[string]bool{}}
			groups[cat] = g
			order = append(order, cat)
		}

		if v := strings.TrimSpace(r.Value); v != "" {
			if r.Item != "" && cat == CategoryStats {
				v = r.Item + "：" + v
			}
			g.values = append(g.values, v)
		}
		for _, ref := range pageLocator.FindAllString(r.Value+"\n"+r.Source, -1) {
			if !g.seen[ref] {
				g.seen[ref] = true
				g.refs = append(g.refs, ref)
			}
		}
		if s := strings.TrimSpace(r.Source); s != "" && !g.seen["label:"+s] {
			g.seen["label:"+s] = true
			g.labels = append(g.labels, s)
		}
	}

	out := make([]domain.AggregatedRequirement, 0, len(order))
	for _, cat := range order {
		g := groups[cat]
		refs := g.refs
		if len(refs) == 0 {
			refs = g.labels
		}
		if refs == nil {
			refs = []string{}
		}
		out = append(out, domain.AggregatedRequirement{
			Category:   cat,
			Summary:    strings.Join(g.values, "\n"),
			References: refs,
		})
	}
	return out
}
