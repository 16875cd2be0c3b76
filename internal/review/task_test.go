package review

import (
	"testing"
	"time"
)

func TestTaskFiltersSignature(t *testing.T) {
	if got := (TaskFilters{}).Signature(); got != "|||" {
		t.Errorf("zero signature = %q", got)
	}

	a := TaskFilters{Status: StatusCompleted, Tag: "portrait"}
	b := TaskFilters{Status: StatusCompleted, Tag: "portrait"}
	if a.Signature() != b.Signature() {
		t.Error("equal filters must share a signature")
	}

	c := TaskFilters{Status: StatusCompleted, Tag: "still-life"}
	if a.Signature() == c.Signature() {
		t.Error("different tags must not collide")
	}

	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	d := TaskFilters{StartDate: start}
	e := TaskFilters{EndDate: start}
	if d.Signature() == e.Signature() {
		t.Error("start and end bounds must not collide")
	}
}
