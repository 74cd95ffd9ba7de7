// Package compare diffs two test-run result sets.
//
// CompareRuns is pure and deterministic: it takes two snapshots keyed by
// test case ID and produces a per-case classification plus aggregate stats.
// It shares no state between calls.
package compare

import (
	"errors"
	"sort"

	"github.com/testdeck/testdeck/internal/domain"
)

// ErrNilResultSet is returned when either input map is nil. Empty maps are
// valid inputs; nil maps are not.
var ErrNilResultSet = errors.New("result set must not be nil")

// Entry is the verdict for one test case. BaselineStatus or CompareStatus
// is nil when the case is absent from that run.
type Entry struct {
	TestCaseID     string
	Title          string
	ReadableID     string
	BaselineStatus *domain.CaseStatus
	CompareStatus  *domain.CaseStatus
	Classification domain.Classification
}

// Stats aggregates a comparison. The five counts always sum to the number
// of entries.
type Stats struct {
	Regressed int
	Improved  int
	New       int
	Removed   int
	Same      int

	// Pass rates are percentages (passed/total*100), zero for empty runs.
	BaselinePassRate float64
	ComparePassRate  float64
	PassRateDelta    float64
}

// Result holds comparison entries ordered regressed, improved, new,
// removed, same, with lexicographic case ID as the stable tie-break.
type Result struct {
	Entries []Entry
	Stats   Stats
}

// statusPriority orders statuses by healthiness. Unknown statuses rank as
// not_run for ordering only; their reported value is unchanged.
func statusPriority(s domain.CaseStatus) int {
	switch s {
	case domain.CaseStatusPassed:
		return 4
	case domain.CaseStatusSkipped:
		return 3
	case domain.CaseStatusNotRun:
		return 2
	case domain.CaseStatusBlocked:
		return 1
	case domain.CaseStatusFailed:
		return 0
	default:
		return 2
	}
}

func classificationRank(c domain.Classification) int {
	switch c {
	case domain.ClassificationRegressed:
		return 0
	case domain.ClassificationImproved:
		return 1
	case domain.ClassificationNew:
		return 2
	case domain.ClassificationRemoved:
		return 3
	default:
		return 4
	}
}

// CompareRuns classifies every test case touched by either run.
//
// A case present in both runs is compared by status priority; equal
// priority classifies as same even when the two statuses differ in kind.
// Downstream consumers depend on that equal-priority behavior, so it is
// kept as-is.
func CompareRuns(baseline, comparison map[string]domain.CaseResult) (Result, error) {
	if baseline == nil || comparison == nil {
		return Result{}, ErrNilResultSet
	}

	ids := unionIDs(baseline, comparison)

	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		base, inBase := baseline[id]
		comp, inComp := comparison[id]

		entry := Entry{TestCaseID: id}

		switch {
		case !inBase:
			entry.Classification = domain.ClassificationNew
			entry.CompareStatus = statusPtr(comp.Status)
			entry.Title = comp.Title
			entry.ReadableID = comp.ReadableID

		case !inComp:
			entry.Classification = domain.ClassificationRemoved
			entry.BaselineStatus = statusPtr(base.Status)
			entry.Title = base.Title
			entry.ReadableID = base.ReadableID

		default:
			entry.BaselineStatus = statusPtr(base.Status)
			entry.CompareStatus = statusPtr(comp.Status)
			entry.Title = comp.Title
			entry.ReadableID = comp.ReadableID

			bp, cp := statusPriority(base.Status), statusPriority(comp.Status)
			switch {
			case cp > bp:
				entry.Classification = domain.ClassificationImproved
			case cp < bp:
				entry.Classification = domain.ClassificationRegressed
			default:
				entry.Classification = domain.ClassificationSame
			}
		}

		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return classificationRank(entries[i].Classification) < classificationRank(entries[j].Classification)
	})

	stats := Stats{
		BaselinePassRate: passRate(baseline),
		ComparePassRate:  passRate(comparison),
	}
	stats.PassRateDelta = stats.ComparePassRate - stats.BaselinePassRate

	for _, e := range entries {
		switch e.Classification {
		case domain.ClassificationRegressed:
			stats.Regressed++
		case domain.ClassificationImproved:
			stats.Improved++
		case domain.ClassificationNew:
			stats.New++
		case domain.ClassificationRemoved:
			stats.Removed++
		case domain.ClassificationSame:
			stats.Same++
		}
	}

	return Result{Entries: entries, Stats: stats}, nil
}

// unionIDs returns the sorted union of both key sets. Map iteration order
// is not deterministic, so sorted IDs serve as the stable tie-break key.
func unionIDs(a, b map[string]domain.CaseResult) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for id := range a {
		seen[id] = struct{}{}
	}
	for id := range b {
		seen[id] = struct{}{}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func passRate(results map[string]domain.CaseResult) float64 {
	if len(results) == 0 {
		return 0
	}
	passed := 0
	for _, r := range results {
		if r.Status == domain.CaseStatusPassed {
			passed++
		}
	}
	return float64(passed) / float64(len(results)) * 100
}

func statusPtr(s domain.CaseStatus) *domain.CaseStatus {
	return &s
}
