// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package upload

// Result tells the scheduler what to do after a run.
type Result int

const (
	// ResultSuccess means no eligible segment is left.
	ResultSuccess Result = iota
	// ResultRetry means work remains; run again after a backoff.
	ResultRetry
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultRetry:
		return "retry"
	default:
		return "unknown"
	}
}
