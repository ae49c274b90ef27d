package domain

import "time"

// Policy is one Rego module contributing rules to package cmf.admission.
type Policy struct {
	ID        string
	Name      string
	Rules     string
	Enabled   bool
	CreatedAt time.Time
}
