package fat

import "github.com/pkg/errors"

// Result is the coarse error-kind taxonomy every operation returns. It
// implements the error interface so it composes with the standard errors
// package; the underlying cause (a block device fault, say) is preserved
// separately and reachable with errors.Unwrap/errors.As.
type Result int

const (
	Success Result = iota
	HardwareFail
	IncorrectFormat
	AlreadyInit
	MemoryTableFail
	ReadFail
	WriteFail
	InvalidDevice
	NotFound
	InvalidParameter
	InvalidTime
	NotExist
	Fail
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case HardwareFail:
		return "hardware failure"
	case IncorrectFormat:
		return "incorrect format"
	case AlreadyInit:
		return "already initialized"
	case MemoryTableFail:
		return "memory table failure"
	case ReadFail:
		return "read failure"
	case WriteFail:
		return "write failure"
	case InvalidDevice:
		return "invalid device"
	case NotFound:
		return "not found"
	case InvalidParameter:
		return "invalid parameter"
	case InvalidTime:
		return "invalid time"
	case NotExist:
		return "does not exist"
	case Fail:
		return "failure"
	default:
		return "unknown result"
	}
}

func (r Result) Error() string { return r.String() }

// resultError pairs a Result kind with the low-level cause that produced it,
// so callers can switch on the kind while still being able to unwrap down
// to the originating block-device or cache error.
type resultError struct {
	kind  Result
	cause error
}

func (e *resultError) Error() string {
	if e.cause == nil {
		return e.kind.String()
	}
	return e.kind.String() + ": " + e.cause.Error()
}

func (e *resultError) Unwrap() error { return e.cause }

// Is allows errors.Is(err, SomeResult) to match the wrapped kind directly.
func (e *resultError) Is(target error) bool {
	r, ok := target.(Result)
	return ok && r == e.kind
}

// wrap produces an error of kind associated with cause, suitable for
// returning from FS/File methods. If cause is nil, wrap returns the bare
// Result so simple comparisons (err == fat.NotFound) keep working.
func wrap(kind Result, cause error) error {
	if cause == nil {
		return kind
	}
	return &resultError{kind: kind, cause: errors.WithStack(cause)}
}
