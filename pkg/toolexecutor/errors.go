package toolexecutor

// ErrorKind classifies why an invocation failed.
type ErrorKind string

const (
	KindUnknownTool           ErrorKind = "UnknownTool"
	KindSchemaValidation      ErrorKind = "SchemaValidationError"
	KindPermissionDenied      ErrorKind = "PermissionDenied"
	KindRiskApprovalRequired  ErrorKind = "RiskApprovalRequired"
	KindHandlerNotImplemented ErrorKind = "HandlerNotImplemented"
	KindHandlerTimeout        ErrorKind = "HandlerTimeout"
	KindHandlerExecution      ErrorKind = "HandlerExecutionError"
	KindResultShapeMismatch   ErrorKind = "ResultShapeMismatch"
)

// AllKinds lists every error kind in pipeline order.
var AllKinds = []ErrorKind{
	KindUnknownTool,
	KindSchemaValidation,
	KindPermissionDenied,
	KindRiskApprovalRequired,
	KindHandlerNotImplemented,
	KindHandlerTimeout,
	KindHandlerExecution,
	KindResultShapeMismatch,
}

// PreDispatch reports whether the kind is raised before any handler runs.
func (k ErrorKind) PreDispatch() bool {
	switch k {
	case KindUnknownTool, KindSchemaValidation, KindPermissionDenied,
		KindRiskApprovalRequired, KindHandlerNotImplemented:
		return true
	}
	return false
}

// metricLabel is the kind label used for metrics and history rows.
func metricLabel(k ErrorKind) string {
	if k == "" {
		return "ok"
	}
	return string(k)
}
