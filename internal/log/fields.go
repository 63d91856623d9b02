package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldRequestID   = "request_id"
	FieldClientIP    = "client_ip"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldStatusCode  = "status_code"
	FieldDuration    = "duration_ms"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldRecordID    = "record_id"
	FieldDocHash     = "document_hash"
	FieldSubmittedBy = "submitted_by"
	FieldMerchant    = "merchant"
	FieldAmountMinor = "amount_minor"
	FieldCurrency    = "currency"
	FieldCategory    = "category"
	FieldReason      = "reason"
	FieldPeriodKind  = "period_kind"
	FieldRange       = "range"
	FieldAttempt     = "attempt"
	FieldReportID    = "report_id"
	FieldBackend     = "backend"
)

// Components defines standard component names
const (
	ComponentApp        = "app"
	ComponentHTTP       = "http"
	ComponentIntake     = "intake"
	ComponentNormalizer = "normalizer"
	ComponentReconciler = "reconciler"
	ComponentStorage    = "storage"
	ComponentAMQP       = "amqp"
	ComponentWorker     = "worker"
	ComponentSheets     = "sheets"
	ComponentCache      = "cache"
	ComponentScheduler  = "scheduler"
	ComponentDelivery   = "delivery"
	ComponentReport     = "report"
	ComponentModel      = "model"
	ComponentArchive    = "archive"
	ComponentBackend    = "backend"
)

// Operations defines standard operation names
const (
	OpAppend    = "append"
	OpReadRange = "read_range"
	OpLookup    = "lookup"
	OpIngest    = "ingest"
	OpExtract   = "extract"
	OpValidate  = "validate"
	OpAggregate = "aggregate"
	OpDeliver   = "deliver"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithRequestID(requestID string) LogFields {
	if requestID != "" {
		f[FieldRequestID] = requestID
	}
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithDocument adds the dedup identity of a submitted document.
func (f LogFields) WithDocument(hash, submittedBy string) LogFields {
	f[FieldDocHash] = shortHash(hash)
	f[FieldSubmittedBy] = submittedBy
	return f
}

// WithAmount adds amount fields in minor units.
func (f LogFields) WithAmount(minor int64, currency string) LogFields {
	f[FieldAmountMinor] = minor
	f[FieldCurrency] = currency
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}

// shortHash keeps log lines readable; 12 hex chars are plenty to correlate.
func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
