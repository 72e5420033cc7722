package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for workflow execution spans and metrics.
var (
	AttrWorkflowID     = attribute.Key("workflow.id")
	AttrWorkflowStatus = attribute.Key("workflow.status")
	AttrStepID         = attribute.Key("step.id")
	AttrStepMode       = attribute.Key("step.mode")
	AttrStepStatus     = attribute.Key("step.status")
	AttrStepIterations = attribute.Key("step.iterations")

	AttrHTTPMethod = attribute.Key("http.method")
	AttrHTTPURL    = attribute.Key("http.url")
	AttrHTTPStatus = attribute.Key("http.status_code")

	AttrTenant = attribute.Key("tenant.id")
)
