package harness

// Step operations.
const (
	OpIngest  = "ingest"
	OpEnqueue = "enqueue"
	OpSync    = "sync"
	OpDrain   = "drain"
	OpRetry   = "retry"
	OpReplay  = "replay"
)

// TraceEvent records the outcome of one scenario step.
type TraceEvent struct {
	Step       int            `json:"step"`
	Op         string         `json:"op"`
	Object     string         `json:"object,omitempty"`
	WofiType   string         `json:"wofi_type,omitempty"`
	Status     string         `json:"status,omitempty"`
	MissingRef string         `json:"missing_ref,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Error      string         `json:"error,omitempty"`
	Count      *int           `json:"count,omitempty"`
	Stats      map[string]int `json:"stats,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// Aliases maps each declared alias to its content id.
	Aliases map[string]string `json:"aliases"`

	// Tables holds the final row count of every graph table.
	Tables map[string]int `json:"tables"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Errors:  []string{},
		Aliases: make(map[string]string),
		Tables:  make(map[string]int),
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an event for the next step.
func (r *Result) AddTrace(event TraceEvent) {
	event.Step = len(r.Trace) + 1
	r.Trace = append(r.Trace, event)
}
