package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Standard tracing fields, propagated through the call chain via context.
const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldProcessID is the analyzer process ID
	FieldProcessID = "process_id"

	// FieldTask is the analysis task name
	FieldTask = "task"

	// FieldBatch is the batch index or gateway batch ID
	FieldBatch = "batch"

	// FieldComponent is the component/module name
	FieldComponent = "component"
)

// Standard metric fields, attached per log entry for aggregation.
const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldStatus is the operation status
	FieldStatus = "status"
)
