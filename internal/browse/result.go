package browse

import "fmt"

// Outcome classifies what happened to a fetch or a persistence write.
// Failures are never surfaced to the user; they are reported here so callers
// and tests can see them.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeNetworkError
	OutcomeStorageError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeNetworkError:
		return "network_error"
	case OutcomeStorageError:
		return "storage_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type Result struct {
	Outcome Outcome
	Err     error
}

func ok() Result { return Result{Outcome: OutcomeOK} }

func networkError(err error) Result { return Result{Outcome: OutcomeNetworkError, Err: err} }

func storageError(err error) Result { return Result{Outcome: OutcomeStorageError, Err: err} }

func (r Result) OK() bool { return r.Outcome == OutcomeOK }
