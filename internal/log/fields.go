package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldQuery      = "query"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldUserAgent  = "user_agent"
	FieldSuccess    = "success"
	FieldError      = "error"
	FieldOperation  = "operation"
	FieldCollection = "collection"
	FieldRecordID   = "record_id"
	FieldAmount     = "amount_usd"
	FieldCategory   = "category"
	FieldCurrency   = "currency"
	FieldRate       = "rate"
	FieldRateSource = "rate_source"
	FieldMonth      = "month"
	FieldObject     = "object"
	FieldURL        = "url"
	FieldMessageID  = "message_id"
	FieldVersion    = "version"
)

// Components defines standard component names
const (
	ComponentApp         = "app"
	ComponentHTTP        = "http"
	ComponentLedger      = "ledger"
	ComponentStorage     = "storage"
	ComponentAMQP        = "amqp"
	ComponentWorker      = "worker"
	ComponentSheets      = "sheets"
	ComponentRates       = "rates"
	ComponentAttachments = "attachments"
	ComponentDashboard   = "dashboard"
	ComponentRateLimit   = "rate_limit"
	ComponentBackend     = "backend"
)

// Operations defines standard operation names
const (
	OpCreate    = "create"
	OpDelete    = "delete"
	OpArchive   = "archive"
	OpUnarchive = "unarchive"
	OpAttach    = "attach"
	OpDetach    = "detach"
	OpList      = "list"
	OpRefresh   = "refresh"
	OpExport    = "export"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
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

// WithRecord adds the identifying fields of a ledger record.
func (f LogFields) WithRecord(collection, id string, amountUSD float64, category string) LogFields {
	f[FieldCollection] = collection
	f[FieldRecordID] = id
	f[FieldAmount] = amountUSD
	if category != "" {
		f[FieldCategory] = category
	}
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	if query != "" {
		f[FieldQuery] = query
	}
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
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
