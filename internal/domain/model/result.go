package model

import "encoding/json"

// ResultStatus is the outcome reported by a compute strategy.
type ResultStatus string

const (
	// ResultSuccess indicates the strategy produced a usable result.
	ResultSuccess ResultStatus = "success"
	// ResultFailure indicates an expected failure mode (non-zero exit,
	// malformed output, timeout) that the strategy converted into a result.
	ResultFailure ResultStatus = "failure"
)

// ResultRecord is the structured outcome of one strategy execution.
// Extra carries strategy-specific fields and is stored verbatim.
type ResultRecord struct {
	Status    ResultStatus    `json:"status"`
	Message   string          `json:"message,omitempty"`
	RawOutput string          `json:"raw_output,omitempty"`
	Extra     json.RawMessage `json:"extra,omitempty"`
}

// Failed returns true when the record describes a failed execution.
func (r *ResultRecord) Failed() bool {
	return r == nil || r.Status != ResultSuccess
}

// FailureResult builds a failure ResultRecord with the given message.
func FailureResult(message string) *ResultRecord {
	return &ResultRecord{Status: ResultFailure, Message: message}
}
