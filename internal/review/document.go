package review

import (
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Document is one raw backend record as delivered by the push channel or the
// REST feed. Data holds the backend's snake_case fields.
type Document struct {
	ID   string
	Data map[string]any
}

// taskDocumentSchema guards the core fields a task document must carry.
// Everything else is optional and degrades to a safe default so that a single
// malformed sub-field never rejects the document.
const taskDocumentSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["user_id", "status", "image_url"],
	"properties": {
		"user_id": {"type": "string", "minLength": 1},
		"status": {"enum": ["pending", "processing", "completed", "failed"]},
		"image_url": {"type": "string"}
	}
}`

var taskSchema = mustCompileSchema("task.schema.json", taskDocumentSchema)

func mustCompileSchema(name, raw string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		panic(err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		panic(err)
	}
	return schema
}

// MapTask converts a raw backend document into a Task. Documents failing the
// core schema yield a *MappingError; optional fields fall back field by field
// (missing or unparsable timestamps default to the current instant, feedback
// is omitted entirely unless its required sub-fields are all present).
func MapTask(doc Document) (Task, error) {
	if doc.Data == nil {
		return Task{}, &MappingError{DocID: doc.ID, Detail: "document has no data"}
	}
	if err := taskSchema.Validate(doc.Data); err != nil {
		return Task{}, &MappingError{DocID: doc.ID, Detail: err.Error()}
	}

	now := time.Now()
	task := Task{
		TaskID:            doc.ID,
		UserID:            toString(doc.Data["user_id"]),
		Status:            TaskStatus(toString(doc.Data["status"])),
		ImageURL:          toString(doc.Data["image_url"]),
		AnnotatedImageURL: toString(doc.Data["annotated_image_url"]),
		ExampleImageURL:   toString(doc.Data["example_image_url"]),
		Tags:              toStringSlice(doc.Data["tags"]),
		RankAtReview:      toString(doc.Data["rank_at_review"]),
		RankChanged:       toBool(doc.Data["rank_changed"]),
		ErrorMessage:      toString(doc.Data["error_message"]),
		CreatedAt:         timeOrDefault(doc.Data["created_at"], now),
		UpdatedAt:         timeOrDefault(doc.Data["updated_at"], now),
	}
	if score, ok := toFloat(doc.Data["score"]); ok {
		task.Score = &score
	}
	task.Feedback = mapFeedback(doc.Data["feedback"])
	return task, nil
}

// mapFeedback builds the feedback block only when overall_score, strengths
// and improvements are all present. A completed task without them simply has
// no feedback; that is defensive, not an error.
func mapFeedback(v any) *Feedback {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	overall, hasScore := toFloat(raw["overall_score"])
	if !hasScore || raw["strengths"] == nil || raw["improvements"] == nil {
		return nil
	}
	feedback := &Feedback{
		OverallScore: overall,
		Strengths:    toStringSlice(raw["strengths"]),
		Improvements: toStringSlice(raw["improvements"]),
		Details: map[string]CategoryFeedback{
			CategoryProportion: mapCategory(raw["proportion"]),
			// backend key renames: tone -> shading, line_quality -> lineQuality
			CategoryShading:     mapCategory(raw["tone"]),
			CategoryTexture:     mapCategory(raw["texture"]),
			CategoryLineQuality: mapCategory(raw["line_quality"]),
		},
	}
	feedback.Growth = mapGrowth(raw["growth"])
	return feedback
}

func mapCategory(v any) CategoryFeedback {
	category := CategoryFeedback{Comments: []string{}}
	raw, ok := v.(map[string]any)
	if !ok {
		return category
	}
	if score, ok := toFloat(raw["score"]); ok {
		category.Score = score
	}
	if comments := toStringSlice(raw["comments"]); comments != nil {
		category.Comments = comments
	}
	return category
}

func mapGrowth(v any) *GrowthFeedback {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	growth := &GrowthFeedback{
		ComparisonSummary:   toString(raw["comparison_summary"]),
		ImprovedAreas:       orEmpty(toStringSlice(raw["improved_areas"])),
		ConsistentStrengths: orEmpty(toStringSlice(raw["consistent_strengths"])),
		OngoingChallenges:   orEmpty(toStringSlice(raw["ongoing_challenges"])),
	}
	// a nil score signals "no prior submission to compare against"
	if score, ok := toFloat(raw["score"]); ok {
		growth.Score = &score
	}
	return growth
}

// MapRank converts the per-user aggregate document into a Rank. A nil data
// map (record not created yet) yields the same defaults as a fresh user.
func MapRank(data map[string]any) Rank {
	rank := DefaultRank()
	if data == nil {
		return rank
	}
	if level, ok := toFloat(data["rank"]); ok && int(level) >= 1 {
		rank.Level = int(level)
	}
	rank.Label = RankLabel(rank.Level)
	if score, ok := toFloat(data["latest_score"]); ok {
		rank.CurrentScore = score
	}
	if total, ok := toFloat(data["total_submissions"]); ok {
		rank.TotalSubmissions = int(total)
	}
	if scores := toFloatSlice(data["high_scores"]); len(scores) > 0 {
		rank.HighScores = scores
	}
	return rank
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func toBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func toFloat(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int64:
		return float64(value), true
	default:
		return 0, false
	}
}

func toStringSlice(v any) []string {
	switch values := v.(type) {
	case []string:
		return append([]string(nil), values...)
	case []any:
		out := make([]string, 0, len(values))
		for _, item := range values {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func toFloatSlice(v any) []float64 {
	switch values := v.(type) {
	case []float64:
		return append([]float64(nil), values...)
	case []any:
		out := make([]float64, 0, len(values))
		for _, item := range values {
			if f, ok := toFloat(item); ok {
				out = append(out, f)
			}
		}
		return out
	default:
		return nil
	}
}

func orEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func timeOrDefault(v any, fallback time.Time) time.Time {
	switch value := v.(type) {
	case time.Time:
		return value
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
			return ts
		}
		if ts, err := time.Parse(time.RFC3339, value); err == nil {
			return ts
		}
	case float64:
		if value > 0 {
			return time.Unix(int64(value), 0)
		}
	}
	return fallback
}
