package store

// Phase is the test execution phase that produced an outcome.
type Phase string

// Test execution phases in the order they run.
const (
	PhaseSetup    Phase = "setup"
	PhaseCall     Phase = "call"
	PhaseTeardown Phase = "teardown"
)

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseSetup, PhaseCall, PhaseTeardown:
		return true
	}

	return false
}

// Outcome is the resolved status of a test within a build.
type Outcome string

// Outcomes a result row can hold. Raw phase outcomes are limited to
// passed, failed and skipped; xfail and xpass are only produced by the
// recorder's promotion rule.
const (
	OutcomePassed  Outcome = "passed"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
	OutcomeXFail   Outcome = "xfail"
	OutcomeXPass   Outcome = "xpass"
)

// SummaryOutcomes is the fixed, display-ordered outcome set of a summary.
var SummaryOutcomes = []Outcome{
	OutcomeFailed,
	OutcomeXFail,
	OutcomeSkipped,
	OutcomeXPass,
	OutcomePassed,
}

type outcomeInfo struct {
	value       int
	color       string
	label       string
	description string
}

var outcomeInfos = map[Outcome]outcomeInfo{
	OutcomePassed: {
		value: 1, color: "#a4f657", label: "Passed",
		description: "Test that were run and finished OK.",
	},
	OutcomeXPass: {
		value: 2, color: "#ddffbd", label: "XPassed",
		description: "Unexpected pass. Test that were run and were expected to fail but passed.",
	},
	OutcomeSkipped: {
		value: 3, color: "#f0f0f0", label: "Skipped",
		description: "Test that were not run.",
	},
	OutcomeXFail: {
		value: 4, color: "#f3f657", label: "XFailed",
		description: "Expected fail. Test that were run and were expected to fail and failed.",
	},
	OutcomeFailed: {
		value: 5, color: "#f65757", label: "Failed",
		description: "Test that were run and failed.",
	},
}

// Known reports whether o is one of the five stored outcomes.
func (o Outcome) Known() bool {
	_, ok := outcomeInfos[o]

	return ok
}

// Raw reports whether o can be reported directly by a test phase.
func (o Outcome) Raw() bool {
	switch o {
	case OutcomePassed, OutcomeFailed, OutcomeSkipped:
		return true
	}

	return false
}

// Value is the severity of the outcome, 1 (passed) to 5 (failed).
// Unknown outcomes have value 0.
func (o Outcome) Value() int {
	return outcomeInfos[o].value
}

// Color is the fixed display colour of the outcome.
func (o Outcome) Color() string {
	return outcomeInfos[o].color
}

// Label is the human readable outcome name.
func (o Outcome) Label() string {
	return outcomeInfos[o].label
}

// Description explains the outcome in the summary table.
func (o Outcome) Description() string {
	return outcomeInfos[o].description
}

// Result is the current outcome of one test in one build. The composite
// primary key enforces one row per (build, test).
type Result struct {
	Build        int64   `gorm:"column:build;primaryKey;autoIncrement:false"`
	Test         string  `gorm:"column:test;primaryKey"`
	Capabilities string  `gorm:"column:capabilities;type:text"`
	Phase        Phase   `gorm:"column:phase;type:text"`
	Outcome      Outcome `gorm:"column:outcome;type:text"`
	XFailReason  *string `gorm:"column:xfail_reason;type:text"`
	VideoURL     *string `gorm:"column:video_url;type:text"`
}

// TableName pins the table name.
func (Result) TableName() string {
	return "result"
}

// BuildCount is the number of result rows stored for a build.
type BuildCount struct {
	Build    int64
	RowCount int64
}
