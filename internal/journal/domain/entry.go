package domain

import "time"

// Entry is one journaled bridge call.
type Entry struct {
	ID        string
	Pipeline  string
	Context   string
	Execution string
	Op        string
	Key       string
	// FieldCount is the number of typed fields forwarded.
	FieldCount int
	// Fields is the typed field set as a JSON object; empty when none was built.
	Fields     string
	Outcome    string
	Error      string
	Host       string
	DurationMS int64
	CreatedAt  time.Time
}
