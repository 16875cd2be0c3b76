// Package review defines the domain model for drawing submissions: the
// backend-owned review task, its AI feedback, and the user's progression
// rank. Records are single-writer and backend-owned; this package only maps
// raw pushed documents into the domain shape.
package review

import "time"

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// Task is one drawing submission and its lifecycle record. Status only moves
// forward along pending -> processing -> completed|failed. Feedback appears
// once status reaches completed; the annotated and example image URLs
// populate independently of it and of each other.
type Task struct {
	TaskID            string     `json:"taskId"`
	UserID            string     `json:"userId"`
	Status            TaskStatus `json:"status"`
	ImageURL          string     `json:"imageUrl"`
	AnnotatedImageURL string     `json:"annotatedImageUrl,omitempty"`
	ExampleImageURL   string     `json:"exampleImageUrl,omitempty"`
	Feedback          *Feedback  `json:"feedback,omitempty"`
	Score             *float64   `json:"score,omitempty"`
	Tags              []string   `json:"tags,omitempty"`
	RankAtReview      string     `json:"rankAtReview,omitempty"`
	RankChanged       bool       `json:"rankChanged,omitempty"`
	ErrorMessage      string     `json:"errorMessage,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

type Feedback struct {
	OverallScore float64                     `json:"overallScore"`
	Strengths    []string                    `json:"strengths"`
	Improvements []string                    `json:"improvements"`
	Details      map[string]CategoryFeedback `json:"details"`
	Growth       *GrowthFeedback             `json:"growth,omitempty"`
}

type CategoryFeedback struct {
	Score    float64  `json:"score"`
	Comments []string `json:"comments"`
}

// GrowthFeedback compares the submission with the user's previous one. A nil
// Score means there was no prior submission to compare against.
type GrowthFeedback struct {
	Score               *float64 `json:"score"`
	ComparisonSummary   string   `json:"comparisonSummary"`
	ImprovedAreas       []string `json:"improvedAreas"`
	ConsistentStrengths []string `json:"consistentStrengths"`
	OngoingChallenges   []string `json:"ongoingChallenges"`
}

// Category keys used in Feedback.Details after normalization renames.
const (
	CategoryProportion  = "proportion"
	CategoryShading     = "shading"
	CategoryTexture     = "texture"
	CategoryLineQuality = "lineQuality"
)

// TaskFilters narrows a task subscription. Zero values mean "no constraint".
type TaskFilters struct {
	Status    TaskStatus
	Tag       string
	StartDate time.Time
	EndDate   time.Time
}

// Signature returns a stable key for the filter combination, used to detect
// parameter changes and to share backend subscriptions.
func (f TaskFilters) Signature() string {
	start := ""
	if !f.StartDate.IsZero() {
		start = f.StartDate.UTC().Format(time.RFC3339)
	}
	end := ""
	if !f.EndDate.IsZero() {
		end = f.EndDate.UTC().Format(time.RFC3339)
	}
	return string(f.Status) + "|" + f.Tag + "|" + start + "|" + end
}
