package types

import "errors"

// Sentinel errors for common error conditions.
var (
	// ErrNoBackendAvailable is returned when no backend is resolved at
	// call time. No network or process call is attempted in this case.
	ErrNoBackendAvailable = errors.New("no backend available")

	// ErrInvalidConfig is returned when configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidState is returned on internal misuse, such as dispatching
	// to a backend kind that was never constructed.
	ErrInvalidState = errors.New("invalid state")

	// ErrScriptNotConfigured is returned when the subprocess backend is
	// called without a configured model path.
	ErrScriptNotConfigured = errors.New("script backend not configured")

	// ErrExecutionFailed is returned when the subprocess backend exits
	// with a non-zero status. Use errors.As with *ExecError to recover
	// the captured stderr text.
	ErrExecutionFailed = errors.New("script execution failed")

	// ErrUnsupportedOperation is returned when an embedding is requested
	// from a backend that does not support embeddings.
	ErrUnsupportedOperation = errors.New("unsupported operation")
)

// ExecError is a subprocess failure carrying the process stderr verbatim.
type ExecError struct {
	Stderr string
}

func (e *ExecError) Error() string {
	if e.Stderr == "" {
		return "script execution failed"
	}
	return "script execution failed: " + e.Stderr
}

// Unwrap makes errors.Is(err, ErrExecutionFailed) hold for ExecError.
func (e *ExecError) Unwrap() error { return ErrExecutionFailed }
