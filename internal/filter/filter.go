// Package filter computes the dashboard's presentation views over a task
// snapshot: a primary listing filtered by the conjunction of the selected
// calendar day and tag, plus cross-filtered aggregates for the calendar and
// tag widgets. All functions are pure over their inputs.
package filter

import (
	"sort"

	"github.com/nuance-sudo/drawing-practice-agent-gch4/internal/review"
)

// DayFormat is the calendar-day key, in the viewer's local day boundary.
const DayFormat = "2006-01-02"

// Selection is the dashboard's current filter choice. Both axes are optional
// and combine by conjunction; an empty axis is vacuously true.
type Selection struct {
	Date string
	Tag  string
}

// Day returns the task's creation day key in local time.
func Day(task review.Task) string {
	return task.CreatedAt.Local().Format(DayFormat)
}

// ByTag keeps tasks whose tags contain tag. An empty tag is the identity:
// the input slice is returned unchanged, same members, same order.
func ByTag(tasks []review.Task, tag string) []review.Task {
	if tag == "" {
		return tasks
	}
	out := make([]review.Task, 0, len(tasks))
	for _, task := range tasks {
		if hasTag(task, tag) {
			out = append(out, task)
		}
	}
	return out
}

// ByDate keeps tasks created on the given local calendar day. An empty date
// is the identity.
func ByDate(tasks []review.Task, date string) []review.Task {
	if date == "" {
		return tasks
	}
	out := make([]review.Task, 0, len(tasks))
	for _, task := range tasks {
		if Day(task) == date {
			out = append(out, task)
		}
	}
	return out
}

// Intersect keeps tasks satisfying both the date and the tag predicate.
func Intersect(tasks []review.Task, sel Selection) []review.Task {
	return ByTag(ByDate(tasks, sel.Date), sel.Tag)
}

// TagCount is one tag with the number of tasks carrying it.
type TagCount struct {
	Tag   string
	Count int
}

// TagCounts aggregates tag occurrence over the supplied set, sorted by
// descending count. Ties keep first-seen order.
func TagCounts(tasks []review.Task) []TagCount {
	counts := map[string]int{}
	order := []string{}
	for _, task := range tasks {
		for _, tag := range task.Tags {
			if _, seen := counts[tag]; !seen {
				order = append(order, tag)
			}
			counts[tag]++
		}
	}
	out := make([]TagCount, 0, len(order))
	for _, tag := range order {
		out = append(out, TagCount{Tag: tag, Count: counts[tag]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

// DayCounts aggregates per-day task counts for the calendar widget.
func DayCounts(tasks []review.Task) map[string]int {
	counts := map[string]int{}
	for _, task := range tasks {
		counts[Day(task)]++
	}
	return counts
}

// DashboardView bundles the three widget-facing views of one snapshot.
// Each widget's aggregate ignores its own axis of the selection: calendar
// day-counts come from the tag-filtered set and tag counts from the
// date-filtered set, so a widget's displayed counts are unaffected by its
// own current selection.
type DashboardView struct {
	Listing []review.Task
	Tags    []TagCount
	Days    map[string]int
}

func NewDashboardView(tasks []review.Task, sel Selection) DashboardView {
	return DashboardView{
		Listing: Intersect(tasks, sel),
		Tags:    TagCounts(ByDate(tasks, sel.Date)),
		Days:    DayCounts(ByTag(tasks, sel.Tag)),
	}
}

func hasTag(task review.Task, tag string) bool {
	for _, t := range task.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
