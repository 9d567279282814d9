package metrics

import (
	"strconv"
	"time"
)

var (
	httpRequests = newVec(kindCounter, "agenttx_http_requests_total",
		"API calls by tool operation and status code.", "tool", "operation", "method", "code")
	httpDuration = newVec(kindHistogram, "agenttx_http_request_duration_seconds",
		"API call duration in seconds.", "tool", "operation")
	stageTotal = newVec(kindCounter, "agenttx_tool_stage_total",
		"Tool stage executions by outcome.", "tool", "stage", "outcome")
	stageDuration = newVec(kindHistogram, "agenttx_tool_stage_duration_seconds",
		"Tool stage duration in seconds.", "tool", "stage", "outcome")
)

// ObserveHTTPRequest records one API call of a tool operation
// (schema, precheck, execute, transfers).
func ObserveHTTPRequest(tool, operation, method string, status int, duration time.Duration) {
	httpRequests.inc(tool, operation, method, strconv.Itoa(status))
	httpDuration.observe(duration, tool, operation)
}

// HTTPRequestCount returns how many calls of operation answered status.
func HTTPRequestCount(tool, operation, method string, status int) uint64 {
	return httpRequests.value(tool, operation, method, strconv.Itoa(status))
}

// ObserveStage records one tool stage (precheck, execute, commit) with its
// outcome and duration.
func ObserveStage(tool, stage, outcome string, duration time.Duration) {
	stageTotal.inc(tool, stage, outcome)
	stageDuration.observe(duration, tool, stage, outcome)
}

// StageCount returns how often a stage finished with outcome.
func StageCount(tool, stage, outcome string) uint64 {
	return stageTotal.value(tool, stage, outcome)
}
