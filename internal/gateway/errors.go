package gateway

import "fmt"

// NetworkError wraps a transport-level failure (backend unreachable, timed
// out, or returned an undecodable body). Callers may retry.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("backend %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ApplicationError means the backend was reachable but rejected the request
// at the application level (envelope code != 200). Never retried
// automatically.
type ApplicationError struct {
	Code    int
	Message string
}

func (e *ApplicationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend rejected request (code %d)", e.Code)
	}
	return fmt.Sprintf("backend rejected request (code %d): %s", e.Code, e.Message)
}
