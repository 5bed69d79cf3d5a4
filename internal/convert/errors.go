package convert

import "fmt"

// InvalidStateError is the server's rejection of the conversation state.
type InvalidStateError struct {
	Reason  string
	Message string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid conversation state: %s: %s", e.Reason, e.Message)
}

// UpstreamExceptionError is an exception frame received mid-stream.
type UpstreamExceptionError struct {
	Type    string
	Message string
}

func (e *UpstreamExceptionError) Error() string {
	if e.Type == "" {
		return "upstream exception: " + e.Message
	}
	return fmt.Sprintf("upstream exception %s: %s", e.Type, e.Message)
}
