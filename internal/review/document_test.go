package review

import (
	"errors"
	"testing"
	"time"
)

func validTaskData() map[string]any {
	return map[string]any{
		"user_id":   "user-1",
		"status":    "completed",
		"image_url": "https://cdn.example.com/u1/d1.png",
	}
}

func TestMapTaskCoreFields(t *testing.T) {
	data := validTaskData()
	data["annotated_image_url"] = "https://cdn.example.com/u1/d1-annotated.png"
	data["example_image_url"] = "https://cdn.example.com/u1/d1-example.png"
	data["tags"] = []any{"portrait", "pencil"}
	data["score"] = 82.5
	data["rank_at_review"] = "5"
	data["rank_changed"] = true
	data["error_message"] = ""
	data["created_at"] = "2026-08-30T12:00:00Z"
	data["updated_at"] = "2026-08-30T12:05:00Z"

	task, err := MapTask(Document{ID: "task-1", Data: data})
	if err != nil {
		t.Fatalf("MapTask: %v", err)
	}
	if task.TaskID != "task-1" || task.UserID != "user-1" {
		t.Errorf("ids: %q %q", task.TaskID, task.UserID)
	}
	if task.Status != StatusCompleted {
		t.Errorf("Status = %q", task.Status)
	}
	if len(task.Tags) != 2 || task.Tags[0] != "portrait" {
		t.Errorf("Tags = %v", task.Tags)
	}
	if task.Score == nil || *task.Score != 82.5 {
		t.Errorf("Score = %v", task.Score)
	}
	if !task.RankChanged {
		t.Error("RankChanged = false, want true")
	}
	want := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	if !task.CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", task.CreatedAt, want)
	}
}

func TestMapTaskMissingScoreStaysNil(t *testing.T) {
	task, err := MapTask(Document{ID: "task-1", Data: validTaskData()})
	if err != nil {
		t.Fatalf("MapTask: %v", err)
	}
	if task.Score != nil {
		t.Errorf("Score = %v, want nil", task.Score)
	}
	if task.Feedback != nil {
		t.Errorf("Feedback = %+v, want nil", task.Feedback)
	}
}

func TestMapTaskTimestampsDefaultToNow(t *testing.T) {
	before := time.Now()
	task, err := MapTask(Document{ID: "task-1", Data: validTaskData()})
	if err != nil {
		t.Fatalf("MapTask: %v", err)
	}
	after := time.Now()
	if task.CreatedAt.Before(before) || task.CreatedAt.After(after) {
		t.Errorf("CreatedAt = %v, want within [%v, %v]", task.CreatedAt, before, after)
	}
	if task.UpdatedAt.Before(before) || task.UpdatedAt.After(after) {
		t.Errorf("UpdatedAt = %v, want within [%v, %v]", task.UpdatedAt, before, after)
	}
}

func TestMapTaskUnparsableTimestampDefaultsToNow(t *testing.T) {
	data := validTaskData()
	data["created_at"] = "yesterday-ish"
	before := time.Now()
	task, err := MapTask(Document{ID: "task-1", Data: data})
	if err != nil {
		t.Fatalf("MapTask: %v", err)
	}
	if task.CreatedAt.Before(before) {
		t.Errorf("CreatedAt = %v, want defaulted to now", task.CreatedAt)
	}
}

func TestMapTaskFeedbackRenames(t *testing.T) {
	data := validTaskData()
	data["feedback"] = map[string]any{
		"overall_score": 75.0,
		"strengths":     []any{"confident lines"},
		"improvements":  []any{"watch the shoulder width"},
		"tone":          map[string]any{"score": 60.0, "comments": []any{"flat midtones"}},
		"line_quality":  map[string]any{"score": 88.0},
	}

	task, err := MapTask(Document{ID: "task-1", Data: data})
	if err != nil {
		t.Fatalf("MapTask: %v", err)
	}
	fb := task.Feedback
	if fb == nil {
		t.Fatal("Feedback = nil, want mapped block")
	}
	if fb.OverallScore != 75.0 {
		t.Errorf("OverallScore = %v", fb.OverallScore)
	}
	shading := fb.Details[CategoryShading]
	if shading.Score != 60.0 || len(shading.Comments) != 1 {
		t.Errorf("shading = %+v, want tone mapped onto it", shading)
	}
	lineQuality := fb.Details[CategoryLineQuality]
	if lineQuality.Score != 88.0 {
		t.Errorf("lineQuality = %+v, want line_quality mapped onto it", lineQuality)
	}
	if lineQuality.Comments == nil {
		t.Error("missing comments must default to empty slice, not nil")
	}
	if _, ok := fb.Details["tone"]; ok {
		t.Error("raw backend key tone must not leak into details")
	}
}

func TestMapTaskFeedbackRequiresAllCoreFields(t *testing.T) {
	cases := map[string]map[string]any{
		"missing overall_score": {
			"strengths":    []any{"a"},
			"improvements": []any{"b"},
		},
		"missing strengths": {
			"overall_score": 75.0,
			"improvements":  []any{"b"},
		},
		"missing improvements": {
			"overall_score": 75.0,
			"strengths":     []any{"a"},
		},
	}
	for name, feedback := range cases {
		data := validTaskData()
		data["feedback"] = feedback
		task, err := MapTask(Document{ID: "task-1", Data: data})
		if err != nil {
			t.Fatalf("%s: MapTask: %v", name, err)
		}
		if task.Feedback != nil {
			t.Errorf("%s: Feedback = %+v, want nil", name, task.Feedback)
		}
	}
}

func TestMapTaskGrowthScoreNilOnFirstSubmission(t *testing.T) {
	data := validTaskData()
	data["feedback"] = map[string]any{
		"overall_score": 75.0,
		"strengths":     []any{"a"},
		"improvements":  []any{"b"},
		"growth": map[string]any{
			"comparison_summary": "first submission",
		},
	}
	task, err := MapTask(Document{ID: "task-1", Data: data})
	if err != nil {
		t.Fatalf("MapTask: %v", err)
	}
	growth := task.Feedback.Growth
	if growth == nil {
		t.Fatal("Growth = nil, want mapped block")
	}
	if growth.Score != nil {
		t.Errorf("Growth.Score = %v, want nil when no prior submission", growth.Score)
	}
	if growth.ImprovedAreas == nil {
		t.Error("ImprovedAreas must default to empty slice")
	}
}

func TestMapTaskRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]map[string]any{
		"nil data":       nil,
		"missing user":   {"status": "pending", "image_url": "u"},
		"missing status": {"user_id": "user-1", "image_url": "u"},
		"bad status":     {"user_id": "user-1", "status": "enqueued", "image_url": "u"},
		"missing image":  {"user_id": "user-1", "status": "pending"},
	}
	for name, data := range cases {
		_, err := MapTask(Document{ID: "task-1", Data: data})
		var mapErr *MappingError
		if !errors.As(err, &mapErr) {
			t.Errorf("%s: err = %v, want *MappingError", name, err)
			continue
		}
		if mapErr.DocID != "task-1" {
			t.Errorf("%s: DocID = %q", name, mapErr.DocID)
		}
	}
}
