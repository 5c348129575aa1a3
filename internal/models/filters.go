package models

import (
	"fmt"
	"strings"
)

// Filters are equipment hints given alongside a question. They are passed to
// the model as text, not applied as vector store filters.
type Filters struct {
	Category    string `json:"category,omitempty"`
	Type        string `json:"type,omitempty"`
	Brand       string `json:"brand,omitempty"`
	ModelSeries string `json:"model_series,omitempty"`
}

func (f Filters) IsEmpty() bool {
	return f == Filters{}
}

// String renders the non-empty hints as "Category: .., Type: .., Brand: .., Model Series: .."
func (f Filters) String() string {
	var parts []string
	for _, kv := range [][2]string{
		{"Category", f.Category},
		{"Type", f.Type},
		{"Brand", f.Brand},
		{"Model Series", f.ModelSeries},
	} {
		if v := strings.TrimSpace(kv[1]); v != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", kv[0], v))
		}
	}
	return strings.Join(parts, ", ")
}
