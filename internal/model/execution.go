// Package model defines the data structures persisted by the application.
package model

import "time"

// ExecutionRecord is one finished execution as stored in the history.
//
// The ID is the id of the cell that ran the code, so the X-Execution-ID header
// returned by the execute endpoint can be looked up directly.
type ExecutionRecord struct {
	ID              string    `json:"id"`
	Code            string    `json:"code"`
	Status          string    `json:"status"`
	Stdout          string    `json:"stdout"`
	Stderr          string    `json:"stderr"`
	StdoutTruncated bool      `json:"stdoutTruncated"`
	StderrTruncated bool      `json:"stderrTruncated"`
	ErrorMessage    string    `json:"errorMessage,omitempty"`
	ErrorType       string    `json:"errorType,omitempty"`
	ExitCode        int       `json:"exitCode"`
	PeakMemory      int64     `json:"peakMemory"`
	ElapsedMs       int64     `json:"elapsedMs"`
	CreatedAt       time.Time `json:"createdAt"`
}
