package domain

// RequirementRow is one row produced by the rule extractor.
type RequirementRow struct {
	Category string `json:"category"`
	Item     string `json:"item"`
	Value    string `json:"value"`
	Source   string `json:"source"`
}

// AggregatedRequirement groups all rows of one category.
type AggregatedRequirement struct {
	Category   string   `json:"category"`
	Summary    string   `json:"summary"`
	References []string `json:"references"`
}
