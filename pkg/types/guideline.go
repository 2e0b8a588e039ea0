package types

import (
	"strings"
)

// Action types used by the UI to classify guidelines. The search engine treats
// them as opaque strings.
const (
	ActionEmergency = "emergency"
	ActionWarning   = "warning"
	ActionInfo      = "info"
)

// Guideline is one document of the corpus
type Guideline struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Text          string   `json:"text"`
	Tags          []string `json:"tags"`
	SpeechText    string   `json:"speech_text,omitempty"`
	NutritionTags []string `json:"nutrition_tags,omitempty"`
	ActionType    string   `json:"action_type"`
}

// Validate checks the required fields of a guideline
func (g *Guideline) Validate() error {
	if strings.TrimSpace(g.ID) == "" {
		return ErrMissingID
	}
	if g.Title == "" {
		return ErrMissingTitle
	}
	if g.Text == "" {
		return ErrMissingText
	}
	if g.Tags == nil {
		return ErrMissingTags
	}
	if g.ActionType == "" {
		return ErrMissingActionType
	}
	return nil
}

// EmbeddingText returns the text that is embedded for this guideline:
// title, body and tags joined by spaces.
func (g *Guideline) EmbeddingText() string {
	parts := make([]string, 0, 2+len(g.Tags))
	parts = append(parts, g.Title, g.Text)
	parts = append(parts, g.Tags...)
	return strings.Join(parts, " ")
}

// SearchableText returns the lowercased haystack used by keyword matching.
func (g *Guideline) SearchableText() string {
	var b strings.Builder
	b.WriteString(g.Title)
	b.WriteString(" ")
	b.WriteString(g.Text)
	for _, tag := range g.Tags {
		b.WriteString(" ")
		b.WriteString(tag)
	}
	if g.SpeechText != "" {
		b.WriteString(" ")
		b.WriteString(g.SpeechText)
	}
	return strings.ToLower(b.String())
}

// Clone returns a deep copy of the guideline
func (g Guideline) Clone() Guideline {
	c := g
	if g.Tags != nil {
		c.Tags = append([]string(nil), g.Tags...)
	}
	if g.NutritionTags != nil {
		c.NutritionTags = append([]string(nil), g.NutritionTags...)
	}
	return c
}

// VectorRecord is the embedding stored for one guideline
type VectorRecord struct {
	GuidelineID string
	Vector      []float32
}

// Dimension returns the vector length
func (r VectorRecord) Dimension() int {
	return len(r.Vector)
}
