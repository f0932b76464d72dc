package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// ReadinessCategory captures a categorized readiness reason with severity.
type ReadinessCategory struct {
	Name     string
	Severity string
}

// CategoryCount captures accumulated not-ready transitions per category and severity.
type CategoryCount struct {
	Category string
	Severity string
	Count    uint64
}

type readiness struct {
	state               atomic.Int64
	reason              atomic.Value
	categories          atomic.Value
	readyTransitions    atomic.Uint64
	notReadyTransitions atomic.Uint64
	alerts              atomic.Uint64
	categoryTotals      sync.Map // ReadinessCategory -> *atomic.Uint64
}

func (r *readiness) init() {
	r.reason.Store("")
	r.categories.Store([]ReadinessCategory(nil))
}

func (r *readiness) fill(snap *Snapshot) {
	snap.Ready = r.state.Load() == 1
	snap.ReadyReason, _ = r.reason.Load().(string)
	raw, _ := r.categories.Load().([]ReadinessCategory)
	snap.ReadyCategories = append([]ReadinessCategory(nil), raw...)
	snap.ReadyTransitions = r.readyTransitions.Load()
	snap.NotReadyTransitions = r.notReadyTransitions.Load()
	snap.ReadyAlerts = r.alerts.Load()
	r.categoryTotals.Range(func(key, value any) bool {
		cat, ok := key.(ReadinessCategory)
		counter, ok2 := value.(*atomic.Uint64)
		if ok && ok2 && counter != nil {
			snap.CategoryTransitions = append(snap.CategoryTransitions, CategoryCount{
				Category: cat.Name,
				Severity: cat.Severity,
				Count:    counter.Load(),
			})
		}
		return true
	})
}

// ObserveReadiness records the latest readiness evaluation.
func (s *Store) ObserveReadiness(ready bool, reason string, categories []ReadinessCategory) {
	r := &s.readiness
	prev := r.state.Load()
	if ready {
		if prev == 0 {
			r.readyTransitions.Add(1)
		}
		r.state.Store(1)
		r.reason.Store("")
		r.categories.Store([]ReadinessCategory(nil))
		return
	}
	if prev == 1 {
		r.notReadyTransitions.Add(1)
		r.alerts.Add(1)
	}
	r.state.Store(0)
	r.reason.Store(reason)
	deduped := dedupeCategories(categories)
	r.categories.Store(deduped)
	if prev != 1 {
		return
	}
	for _, cat := range deduped {
		counter := &atomic.Uint64{}
		actual, _ := r.categoryTotals.LoadOrStore(cat, counter)
		actual.(*atomic.Uint64).Add(1)
	}
}

func dedupeCategories(categories []ReadinessCategory) []ReadinessCategory {
	if len(categories) == 0 {
		return nil
	}
	seen := make(map[ReadinessCategory]struct{}, len(categories))
	result := make([]ReadinessCategory, 0, len(categories))
	for _, c := range categories {
		if strings.TrimSpace(c.Name) == "" {
			continue
		}
		norm := ReadinessCategory{Name: strings.TrimSpace(c.Name), Severity: normalizeSeverity(c.Severity)}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		result = append(result, norm)
	}
	return result
}

func normalizeSeverity(severity string) string {
	switch s := strings.TrimSpace(strings.ToLower(severity)); s {
	case "":
		return "unknown"
	case "info", "informational":
		return "info"
	case "warn", "warning":
		return "warning"
	case "critical", "crit":
		return "critical"
	default:
		return s
	}
}

func readinessLines(snap Snapshot) []string {
	readyValue := 0
	reason := snap.ReadyReason
	if snap.Ready {
		readyValue = 1
		reason = "ready"
	} else if reason == "" {
		reason = "unknown"
	}
	lines := []string{
		"# HELP stamp_ready Whether the engine considers itself ready (1=ready).",
		"# TYPE stamp_ready gauge",
		fmt.Sprintf("stamp_ready %d", readyValue),
		"# HELP stamp_ready_info Reason associated with the most recent readiness evaluation.",
		"# TYPE stamp_ready_info gauge",
		fmt.Sprintf("stamp_ready_info{reason=%q} 1", reason),
		"# HELP stamp_ready_transitions_total Count of readiness state transitions by resulting state.",
		"# TYPE stamp_ready_transitions_total counter",
		fmt.Sprintf("stamp_ready_transitions_total{state=%q} %d", "ready", snap.ReadyTransitions),
		fmt.Sprintf("stamp_ready_transitions_total{state=%q} %d", "not_ready", snap.NotReadyTransitions),
		"# HELP stamp_ready_categories_info Categories associated with the most recent readiness evaluation.",
		"# TYPE stamp_ready_categories_info gauge",
	}
	cats := append([]ReadinessCategory(nil), snap.ReadyCategories...)
	sort.Slice(cats, func(i, j int) bool {
		if cats[i].Name == cats[j].Name {
			return cats[i].Severity < cats[j].Severity
		}
		return cats[i].Name < cats[j].Name
	})
	if len(cats) == 0 {
		cats = []ReadinessCategory{{Name: "none", Severity: "none"}}
	}
	for _, cat := range cats {
		lines = append(lines, fmt.Sprintf("stamp_ready_categories_info{category=%q,severity=%q} 1", cat.Name, cat.Severity))
	}

	lines = append(lines,
		"# HELP stamp_ready_category_transitions_total Count of readiness degradations annotated by category.",
		"# TYPE stamp_ready_category_transitions_total counter",
	)
	counts := append([]CategoryCount(nil), snap.CategoryTransitions...)
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Category == counts[j].Category {
			return counts[i].Severity < counts[j].Severity
		}
		return counts[i].Category < counts[j].Category
	})
	if len(counts) == 0 {
		counts = []CategoryCount{{Category: "none", Severity: "none"}}
	}
	for _, cc := range counts {
		lines = append(lines, fmt.Sprintf("stamp_ready_category_transitions_total{category=%q,severity=%q} %d", cc.Category, cc.Severity, cc.Count))
	}
	return lines
}
