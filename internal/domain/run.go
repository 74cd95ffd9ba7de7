package domain

type CaseStatus string

const (
	CaseStatusPassed  CaseStatus = "passed"
	CaseStatusFailed  CaseStatus = "failed"
	CaseStatusBlocked CaseStatus = "blocked"
	CaseStatusSkipped CaseStatus = "skipped"
	CaseStatusNotRun  CaseStatus = "not_run"
)

// CaseResult is one test case's outcome within a run.
type CaseResult struct {
	Status     CaseStatus
	Title      string
	ReadableID string
}

// Classification is the per-case verdict when two runs are compared.
type Classification string

const (
	ClassificationRegressed Classification = "regressed"
	ClassificationImproved  Classification = "improved"
	ClassificationNew       Classification = "new"
	ClassificationRemoved   Classification = "removed"
	ClassificationSame      Classification = "same"
)
