package ingest

// Status is the terminal state of one ingestion attempt.
type Status string

const (
	StatusOK       Status = "ok"
	StatusFailed   Status = "failed"
	StatusDeferred Status = "deferred"
)

// Input is one object handed to the pipeline.
//
// CanonicalJSON may be a kernel.Object, a map[string]any, a JSON string, or
// JSON bytes. ContentID, when set, must match the computed id. TxID is the
// external ledger transaction carrying the object, if known.
type Input struct {
	CanonicalJSON any
	ContentID     string
	TxID          string
}

// Result describes the outcome of Ingest.
type Result struct {
	ContentID  string `json:"content_id"`
	WofiType   string `json:"wofi_type"`
	Status     Status `json:"status"`
	Error      string `json:"error,omitempty"`
	MissingRef string `json:"missing_ref,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// expansion is what a typed expander reports when it does not fail.
type expansion struct {
	deferred   bool
	missingRef string
	reason     string
}

var expanded = expansion{}

func deferOn(ref, reason string) expansion {
	return expansion{deferred: true, missingRef: ref, reason: reason}
}

// expansionError is a data-level failure raised while expanding an object.
type expansionError struct {
	msg string
}

func (e *expansionError) Error() string { return e.msg }

func failExpansion(msg string) error {
	return &expansionError{msg: msg}
}
