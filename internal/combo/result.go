package combo

import "fmt"

// Status classifies the outcome of a fetch.
type Status int

const (
	// StatusEmpty means no rows and no errors: the shard had no work.
	// It is distinct from StatusFailed so an idle queue is never read as
	// a broken one.
	StatusEmpty Status = iota
	// StatusOK means rows were returned and nothing failed.
	StatusOK
	// StatusPartial means rows were returned alongside errors.
	StatusPartial
	// StatusFailed means no rows were returned and something failed.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusOK:
		return "ok"
	case StatusPartial:
		return "partial"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Record is a dequeued combo.
type Record struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Params   string `json:"params"`
}

// FetchResult is the outcome of a Dequeue. Status is derived from Data and
// Errors by NewFetchResult.
type FetchResult struct {
	Status Status   `json:"-"`
	Data   []Record `json:"data,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// NewFetchResult builds a result and classifies it.
func NewFetchResult(data []Record, errs []string) FetchResult {
	res := FetchResult{Data: data, Errors: errs}
	switch {
	case len(data) > 0 && len(errs) == 0:
		res.Status = StatusOK
	case len(data) > 0:
		res.Status = StatusPartial
	case len(errs) > 0:
		res.Status = StatusFailed
	default:
		res.Status = StatusEmpty
	}
	return res
}

// DecodeError reports a fetched row column that is not text.
type DecodeError struct {
	Row    int
	Column string
	Value  any
}

func (e *DecodeError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("row %d: column %q is null", e.Row, e.Column)
	}
	return fmt.Sprintf("row %d: column %q: cannot decode %T as text", e.Row, e.Column, e.Value)
}
