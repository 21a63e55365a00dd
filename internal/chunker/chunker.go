// Package chunker converts a structured résumé into semantically-typed
// chunks for embedding. Chunking is a pure function of the document: equal
// input yields equal output in equal order.
//
// Granularity follows the discriminative unit of each section: experience
// and project bullets are one chunk each (one accomplishment, one idea),
// while already-concise sections (summary, skills) stay atomic.
package chunker

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tailorcv/vector-service/internal/resume"
)

// Chunk is the unit of indexing: one semantic idea from one résumé section.
// Embedding is transient and populated by the indexer before upsert.
type Chunk struct {
	CVID      string
	Section   string
	Text      string
	Metadata  map[string]interface{}
	Embedding []float32
}

// typedSections are handled by a dedicated policy, in this fixed order.
var typedSections = []string{"summary", "skills", "experience", "projects", "education"}

// genericSections are list-of-object sections chunked one object at a time,
// in this fixed order.
var genericSections = []string{"leadership", "certifications", "publications", "awards"}

// salientFields orders the fields concatenated into a generic object's chunk
// text. Keys missing from an object are skipped; keys not listed here follow
// in sorted order.
var salientFields = map[string][]string{
	"leadership":     {"organization", "role", "title", "description"},
	"certifications": {"name", "issuer", "date"},
	"publications":   {"title", "venue", "authors", "date"},
	"awards":         {"title", "name", "issuer", "date"},
}

// defaultSalientFields is the field order for sections without a dedicated
// entry, so identifying fields lead the chunk text instead of sort order.
var defaultSalientFields = []string{"name", "title", "organization", "institution", "role", "issuer", "description", "date"}

// Split converts the résumé into its chunk sequence. Malformed sub-objects
// are dropped, never reported: the chunker cannot fail. The result may be
// empty when nothing is chunkable.
func Split(r *resume.Resume) []Chunk {
	if r == nil || len(r.Sections) == 0 {
		return nil
	}

	var chunks []Chunk
	handled := map[string]bool{"contact": true, "additional_sections": true}

	for _, name := range typedSections {
		handled[name] = true
		raw, ok := r.Sections[name]
		if !ok {
			continue
		}
		switch name {
		case "summary":
			chunks = append(chunks, chunkSummary(r.CVID, raw)...)
		case "skills":
			chunks = append(chunks, chunkSkills(r.CVID, raw)...)
		case "experience":
			chunks = append(chunks, chunkExperience(r.CVID, raw)...)
		case "projects":
			chunks = append(chunks, chunkProjects(r.CVID, raw)...)
		case "education":
			chunks = append(chunks, chunkEducation(r.CVID, raw)...)
		}
	}

	for _, name := range genericSections {
		handled[name] = true
		if raw, ok := r.Sections[name]; ok {
			chunks = append(chunks, chunkGeneric(r.CVID, name, raw)...)
		}
	}

	// Remaining top-level sections, sorted for determinism.
	var rest []string
	for name := range r.Sections {
		if !handled[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		chunks = append(chunks, chunkGeneric(r.CVID, name, r.Sections[name])...)
	}

	// additional_sections is a map of named section values.
	if raw, ok := r.Sections["additional_sections"]; ok {
		var extra map[string]json.RawMessage
		if err := json.Unmarshal(raw, &extra); err == nil {
			names := make([]string, 0, len(extra))
			for name := range extra {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				chunks = append(chunks, chunkGeneric(r.CVID, name, extra[name])...)
			}
		}
	}

	return chunks
}

func chunkSummary(cvID string, raw json.RawMessage) []Chunk {
	var s resume.Summary
	if err := json.Unmarshal(raw, &s); err != nil {
		// Some documents carry summary as a bare string.
		if err2 := json.Unmarshal(raw, &s.Text); err2 != nil {
			return nil
		}
	}
	text := strings.TrimSpace(s.Text)
	if text == "" {
		return nil
	}
	return []Chunk{{
		CVID:     cvID,
		Section:  "summary",
		Text:     text,
		Metadata: map[string]interface{}{"type": "summary"},
	}}
}

func chunkSkills(cvID string, raw json.RawMessage) []Chunk {
	var s resume.Skills
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	cats := s.Categories()
	if len(cats) == 0 {
		return nil
	}
	var values []string
	names := make([]string, 0, len(cats))
	for _, c := range cats {
		names = append(names, c.Name)
		values = append(values, c.Values...)
	}
	return []Chunk{{
		CVID:    cvID,
		Section: "skills",
		Text:    strings.Join(values, ", "),
		Metadata: map[string]interface{}{
			"type":       "skills",
			"categories": names,
		},
	}}
}

func chunkExperience(cvID string, raw json.RawMessage) []Chunk {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}
	var chunks []Chunk
	for i, entryRaw := range entries {
		var e resume.Experience
		if err := json.Unmarshal(entryRaw, &e); err != nil {
			continue
		}
		for j, bullet := range e.Bullets {
			bullet = strings.TrimSpace(bullet)
			if bullet == "" {
				continue
			}
			chunks = append(chunks, Chunk{
				CVID:    cvID,
				Section: "experience",
				Text:    prefixed(e.Company, bullet),
				Metadata: map[string]interface{}{
					"type":             "experience_bullet",
					"company":          e.Company,
					"title":            e.Title,
					"location":         e.Location,
					"start_date":       e.StartDate,
					"end_date":         e.EndDate,
					"experience_index": i,
					"bullet_index":     j,
				},
			})
		}
	}
	return chunks
}

func chunkProjects(cvID string, raw json.RawMessage) []Chunk {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}
	var chunks []Chunk
	for i, entryRaw := range entries {
		var p resume.Project
		if err := json.Unmarshal(entryRaw, &p); err != nil {
			continue
		}
		emitted := false
		for j, bullet := range p.Bullets {
			bullet = strings.TrimSpace(bullet)
			if bullet == "" {
				continue
			}
			emitted = true
			chunks = append(chunks, Chunk{
				CVID:    cvID,
				Section: "projects",
				Text:    prefixed(p.Name, bullet),
				Metadata: map[string]interface{}{
					"type":          "project_bullet",
					"project":       p.Name,
					"technologies":  p.Technologies,
					"link":          p.Link,
					"project_index": i,
					"bullet_index":  j,
				},
			})
		}
		// A bullet-less project still counts if it has a description.
		if !emitted {
			if desc := strings.TrimSpace(p.Description); desc != "" {
				chunks = append(chunks, Chunk{
					CVID:    cvID,
					Section: "projects",
					Text:    prefixed(p.Name, desc),
					Metadata: map[string]interface{}{
						"type":          "project_description",
						"project":       p.Name,
						"technologies":  p.Technologies,
						"link":          p.Link,
						"project_index": i,
					},
				})
			}
		}
	}
	return chunks
}

func chunkEducation(cvID string, raw json.RawMessage) []Chunk {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}
	var chunks []Chunk
	for i, entryRaw := range entries {
		var e resume.Education
		if err := json.Unmarshal(entryRaw, &e); err != nil {
			continue
		}
		parts := nonBlank(e.Institution, e.Degree, e.Field)
		if gpa := strings.TrimSpace(e.GPA.String()); gpa != "" {
			parts = append(parts, fmt.Sprintf("GPA: %s", gpa))
		}
		if len(parts) == 0 {
			continue
		}
		chunks = append(chunks, Chunk{
			CVID:    cvID,
			Section: "education",
			Text:    strings.Join(parts, ", "),
			Metadata: map[string]interface{}{
				"type":            "education",
				"institution":     e.Institution,
				"degree":          e.Degree,
				"education_index": i,
			},
		})
	}
	return chunks
}

// chunkGeneric handles any section shape the typed policies do not cover:
// list of objects, list of strings, bare string, or a single object.
func chunkGeneric(cvID, section string, raw json.RawMessage) []Chunk {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		var chunks []Chunk
		for i, itemRaw := range list {
			text := genericItemText(section, itemRaw)
			if text == "" {
				continue
			}
			chunks = append(chunks, Chunk{
				CVID:    cvID,
				Section: section,
				Text:    text,
				Metadata: map[string]interface{}{
					"type":       section,
					"item_index": i,
				},
			})
		}
		return chunks
	}

	if text := genericItemText(section, raw); text != "" {
		return []Chunk{{
			CVID:     cvID,
			Section:  section,
			Text:     text,
			Metadata: map[string]interface{}{"type": section},
		}}
	}
	return nil
}

// genericItemText stringifies one value: a string passes through trimmed, an
// object becomes its salient fields joined by ", ".
func genericItemText(section string, raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}

	seen := map[string]bool{}
	var parts []string
	appendField := func(key string) {
		if seen[key] {
			return
		}
		seen[key] = true
		if v, ok := obj[key]; ok {
			if s := scalarText(v); s != "" {
				parts = append(parts, s)
			}
		}
	}

	order, ok := salientFields[section]
	if !ok {
		order = defaultSalientFields
	}
	for _, key := range order {
		appendField(key)
	}
	rest := make([]string, 0, len(obj))
	for key := range obj {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		appendField(key)
	}
	return strings.Join(parts, ", ")
}

func scalarText(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", t), "0"), ".")
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		return ""
	}
}

// prefixed renders "{name} - {text}", degrading to the bare text when the
// name is blank so chunk text stays non-empty.
func prefixed(name, text string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return text
	}
	return fmt.Sprintf("%s - %s", name, text)
}

func nonBlank(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}
