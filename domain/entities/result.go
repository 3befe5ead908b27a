package entities

// Exit codes carried by ExecuteError, mirroring conventional CLI semantics.
const (
	ExitUserError   uint8 = 1
	ExitSystemError uint8 = 101
)

// ExecuteResult is the outcome of one plugin invocation: either an output
// string or the plugin's own declared failure. The failure is propagated
// verbatim as a normal, non-system error.
type ExecuteResult struct {
	Output string
	Err    *ExecuteError
}

// ExecuteError is a failure the plugin itself reported.
type ExecuteError struct {
	Code    uint8
	Message string
}

func (e *ExecuteError) Error() string {
	return e.Message
}

// OK reports whether the invocation succeeded.
func (r ExecuteResult) OK() bool {
	return r.Err == nil
}

// Success builds a successful result.
func Success(output string) ExecuteResult {
	return ExecuteResult{Output: output}
}

// UserError builds a failed result with the conventional user-error code.
func UserError(message string) ExecuteResult {
	return ExecuteResult{Err: &ExecuteError{Code: ExitUserError, Message: message}}
}

// SystemError builds a failed result with the conventional system-error code.
func SystemError(message string) ExecuteResult {
	return ExecuteResult{Err: &ExecuteError{Code: ExitSystemError, Message: message}}
}
