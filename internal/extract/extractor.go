package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/sha1n/mcp-tender-kb/internal/domain"
)

const (
	// DefaultLinesPerPage approximates the number of non-empty text lines on an A4 page.
	DefaultLinesPerPage = 45

	maxCategoryHits = 50
	previewLines    = 10

	CategoryBasic = "基本信息"
	CategoryStats = "统计"

	SourceAggregated = "聚合提取"
	SourceGrouped    = "聚合生成"
	SourceGenerated  = "generated"
)

// Columns is the header of the result table.
var Columns = []string{"category", "item", "value", "source"}

type basicField struct {
	name     string
	patterns []*regexp.Regexp
}

// The value of a match is its last capturing group.
var basicFields = []basicField{
	{"项目名称", compile(`项目名称[:：]\s*(.+)`)},
	{"项目编号", compile(`(项目编号|项目编号/编号)[:：]\s*([A-Za-z0-9\-—_]+)`)},
	{"采购人", compile(`(采购人|招标人)[:：]\s*(.+)`)},
	{"采购代理机构", compile(`(采购代理机构|代理机构)[:：]\s*(.+)`)},
	{"截止时间", compile(`(截止时间|响应文件递交截止时间)[:：]\s*([0-9]{4}\S*)`)},
	{"开启时间", compile(`(开启时间|开标时间)[:：]\s*([0-9]{4}\S*)`)},
	{"递交地点", compile(`(递交地点|响应文件递交地点)[:：]\s*(.+)`)},
	{"开启地点", compile(`(开启地点|开标地点)[:：]\s*(.+)`)},
	{"最高限价/预算", compile(`(最高响应限价|最高限价|预算金额|项目预算)[:：]\s*(.+)`)},
	{"服务期/合同期限", compile(`(服务期|合同期限|服务期限)[:：]\s*(.+)`)},
	{"联系人", compile(`(联系人)[:：]\s*([^\s，,；;]+)`)},
	{"联系电话", compile(`(联系电话|电话)[:：]?\s*([0-9\-（）()]{6,})`)},
	{"地址", compile(`(地址)[:：]\s*(.+)`)},
}

type keywordCategory struct {
	name     string
	keywords []string
}

var keywordCategories = []keywordCategory{
	{"废标项", []string{"废标", "否决", "无效响应", "不予受理", "不通过", "资格不符", "重大偏离"}},
	{"初步评审", []string{"初步评审", "符合性审查", "资格审查", "响应性审查"}},
	{"评分标准", []string{"评分", "分值", "评审因素", "评分细则", "打分", "得分"}},
	{"注意事项", []string{"注意", "特别提醒", "重要", "须知", "不得", "必须", "应当"}},
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// Extractor is a deterministic rule-based requirement extractor.
type Extractor struct {
	linesPerPage int
}

// New creates an extractor. A non-positive linesPerPage selects DefaultLinesPerPage.
func New(linesPerPage int) *Extractor {
	if linesPerPage <= 0 {
		linesPerPage = DefaultLinesPerPage
	}
	return &Extractor{linesPerPage: linesPerPage}
}

// Result is the extraction output rendered as a single table.
type Result struct {
	Rows []domain.RequirementRow `json:"rows"`
}

// Extract runs the rule set over raw text. Line numbers count non-empty lines
// only and start at 1.
func (e *Extractor) Extract(raw string) Result {
	lines := normalizeLines(raw)
	rows := make([]domain.RequirementRow, 0, len(keywordCategories)+3)

	var basic []string
	for _, f := range basicFields {
		value, line, ok := firstMatch(lines, f.patterns)
		if !ok {
			continue
		}
		basic = append(basic, fmt.Sprintf("【%s】 %s  -- %s", f.name, value, e.locator(line)))
	}
	if len(basic) > 0 {
		rows = append(rows, domain.RequirementRow{
			Category: CategoryBasic,
			Item:     "基本信息汇总",
			Value:    strings.Join(basic, "\n"),
			Source:   SourceAggregated,
		})
	} else {
		rows = append(rows, domain.RequirementRow{
			Category: CategoryBasic,
			Item:     "文本预览(无匹配)",
			Value:    strings.Join(lines[:min(previewLines, len(lines))], "\n"),
			Source:   SourceGenerated,
		})
	}

	for _, cat := range keywordCategories {
		var parts []string
		for i, ln := range lines {
			if !containsAny(ln, cat.keywords) {
				continue
			}
			parts = append(parts, fmt.Sprintf("Page:%d %s", e.Page(i+1), ln))
			if len(parts) == maxCategoryHits {
				break
			}
		}
		if len(parts) == 0 {
			continue
		}
		rows = append(rows, domain.RequirementRow{
			Category: cat.name,
			Item:     cat.name + "汇总",
			Value:    strings.Join(parts, "\n"),
			Source:   SourceGrouped,
		})
	}

	rows = append(rows,
		domain.RequirementRow{Category: CategoryStats, Item: "字符数", Value: strconv.Itoa(utf8.RuneCountInString(raw)), Source: SourceGenerated},
		domain.RequirementRow{Category: CategoryStats, Item: "非空行数", Value: strconv.Itoa(len(lines)), Source: SourceGenerated},
	)
	return Result{Rows: rows}
}

// Page estimates the page of a 1-based line number.
func (e *Extractor) Page(line int) int {
	return (line-1)/e.linesPerPage + 1
}

func (e *Extractor) locator(line int) string {
	return fmt.Sprintf("Page:%d (line:%d)", e.Page(line), line)
}

func normalizeLines(text string) []string {
	text = strings.NewReplacer("\r\n", "\n", "\r", "\n").Replace(text)
	var lines []string
	for _, ln := range strings.Split(text, "\n") {
		if s := strings.TrimSpace(ln); s != "" {
			lines = append(lines, s)
		}
	}
	return lines
}

func firstMatch(lines []string, patterns []*regexp.Regexp) (string, int, bool) {
	for i, ln := range lines {
		for _, re := range patterns {
			m := re.FindStringSubmatch(ln)
			if m == nil {
				continue
			}
			value := strings.TrimSpace(m[len(m)-1])
			if value == "" {
				continue
			}
			return value, i + 1, true
		}
	}
	return "", 0, false
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
