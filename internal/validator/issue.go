package validator

import "sort"

// Severity is whether an Issue blocks execution.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue codes. Errors block execution; warnings are informational.
const (
	CodeUnknownConnector    = "UNKNOWN_CONNECTOR"
	CodeUnknownOperation    = "UNKNOWN_OPERATION"
	CodeMissingConnection   = "MISSING_CONNECTION"
	CodeMissingRequired     = "MISSING_REQUIRED_PARAM"
	CodeParamTypeMismatch   = "PARAM_TYPE_MISMATCH"
	CodeUnresolvedRef       = "UNRESOLVED_REF"
	CodeCycleDetected       = "CYCLE_DETECTED"
	CodeOrphanAction        = "ORPHAN_ACTION"
	CodeDuplicateNodeID     = "DUPLICATE_NODE_ID"
	CodeDuplicateEdge       = "DUPLICATE_EDGE"

	CodeUnusedOutput       = "UNUSED_OUTPUT"
	CodeLifecycleBeta      = "LIFECYCLE_BETA"
	CodeLifecycleAlpha     = "LIFECYCLE_ALPHA"
	CodeLifecycleDeprecated = "LIFECYCLE_DEPRECATED"
	CodeLargeFanOut        = "LARGE_FAN_OUT"
	CodeMissingMetadataHint = "MISSING_METADATA_HINT"
)

// Issue is a single structural or semantic problem found in a graph.
type Issue struct {
	NodeID   string   `json:"nodeId,omitempty"`
	Path     string   `json:"path"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
}

// Result is the validator's output: a graph is runnable iff Errors is empty.
type Result struct {
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// Valid reports whether the graph has no blocking errors.
func (r *Result) Valid() bool { return len(r.Errors) == 0 }

// sortIssues stable-sorts by (nodeId, path, code) so repeated validation of
// an unchanged graph always yields byte-identical output, keeping UI diffs
// minimal.
func sortIssues(issues []Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if a.NodeID != b.NodeID {
			return a.NodeID < b.NodeID
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Code < b.Code
	})
}
