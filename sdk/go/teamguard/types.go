package teamguard

import "fmt"

// APIError is a non-2xx daemon response decoded from the error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("teamd: %s (%s, HTTP %d)", e.Message, e.Code, e.Status)
}

// BlockedError is returned by CheckTool when the invocation must not
// proceed.
type BlockedError struct {
	Tool   string
	Path   string
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("teamguard blocked %s: %s", e.Tool, e.Reason)
}

// Health is the daemon liveness report.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
