package transport

import "fmt"

// OpenError reports a failed session open: unreachable server, rejected
// handshake, or timeout. Timeouts travel through the same channel as any
// other open failure.
type OpenError struct {
	Server string
	Cause  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s: %v", e.Server, e.Cause)
}

func (e *OpenError) Unwrap() error {
	return e.Cause
}

// InvokeError reports a call rejected by the remote side, usually the sign
// of a stale handle that bypassed disconnect-first.
type InvokeError struct {
	Server    string
	Operation string
	Cause     error
}

func (e *InvokeError) Error() string {
	return fmt.Sprintf("invoke %s on %s: %v", e.Operation, e.Server, e.Cause)
}

func (e *InvokeError) Unwrap() error {
	return e.Cause
}
