// Package resume models the structured résumé documents served by the
// storing service. Sections are kept as raw JSON and decoded per-kind so one
// malformed sub-object never poisons the rest of the document.
package resume

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Resume is the document returned by GET /internal/get_cv/{cv_id}.
type Resume struct {
	CVID     string                     `json:"cv_id"`
	Metadata map[string]interface{}     `json:"metadata"`
	Sections map[string]json.RawMessage `json:"structured_sections"`
}

// Summary is the free-text overview section.
type Summary struct {
	Text string `json:"text"`
}

// Skills groups skill values by category. Category order is fixed so the
// flattened skills chunk is deterministic.
type Skills struct {
	Languages  []string `json:"languages"`
	Frameworks []string `json:"frameworks"`
	Cloud      []string `json:"cloud"`
	DevOps     []string `json:"devops"`
	Databases  []string `json:"databases"`
	Tools      []string `json:"tools"`
	Other      []string `json:"other"`
}

// SkillCategory is one named category with its values.
type SkillCategory struct {
	Name   string
	Values []string
}

// Categories returns the non-empty categories in their fixed order.
func (s *Skills) Categories() []SkillCategory {
	all := []SkillCategory{
		{"languages", s.Languages},
		{"frameworks", s.Frameworks},
		{"cloud", s.Cloud},
		{"devops", s.DevOps},
		{"databases", s.Databases},
		{"tools", s.Tools},
		{"other", s.Other},
	}
	out := make([]SkillCategory, 0, len(all))
	for _, c := range all {
		values := make([]string, 0, len(c.Values))
		for _, v := range c.Values {
			if t := strings.TrimSpace(v); t != "" {
				values = append(values, t)
			}
		}
		if len(values) > 0 {
			out = append(out, SkillCategory{Name: c.Name, Values: values})
		}
	}
	return out
}

// Experience is one employment entry.
type Experience struct {
	Company   string   `json:"company"`
	Title     string   `json:"title"`
	Location  string   `json:"location"`
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
	Bullets   []string `json:"bullets"`
}

// Project is one project entry.
type Project struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Technologies []string `json:"technologies"`
	Link         string   `json:"link"`
	Bullets      []string `json:"bullets"`
}

// Education is one education entry. GPA arrives as either a number or a
// string depending on the structuring model's mood.
type Education struct {
	Institution string     `json:"institution"`
	Degree      string     `json:"degree"`
	Field       string     `json:"field"`
	GPA         FlexString `json:"gpa"`
	StartDate   string     `json:"start_date"`
	EndDate     string     `json:"end_date"`
}

// FlexString decodes a JSON string, number, or bool into its string form.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexString(n.String())
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = FlexString(fmt.Sprintf("%t", b))
		return nil
	}
	// Leave unset rather than failing the parent decode.
	*f = ""
	return nil
}

func (f FlexString) String() string { return string(f) }
