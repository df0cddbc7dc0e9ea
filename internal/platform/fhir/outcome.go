package fhir

// OperationOutcome issue severities and type codes per FHIR R4, limited to
// the ones the link endpoint emits.
const (
	IssueSeverityError = "error"

	IssueTypeRequired   = "required"
	IssueTypeStructure  = "structure"
	IssueTypeProcessing = "processing"
)

// Issue is a single OperationOutcome issue.
type Issue struct {
	Severity    string `json:"severity"`
	Code        string `json:"code"`
	Diagnostics string `json:"diagnostics,omitempty"`
}

// OperationOutcome is the FHIR error payload returned by bundle endpoints.
type OperationOutcome struct {
	ResourceType string  `json:"resourceType"`
	Issue        []Issue `json:"issue"`
}

// NewOperationOutcome builds a single-issue error outcome.
func NewOperationOutcome(code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []Issue{
			{Severity: IssueSeverityError, Code: code, Diagnostics: diagnostics},
		},
	}
}
