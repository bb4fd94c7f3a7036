package provision

import "fmt"

// TransportError reports a stream-level failure: the build endpoint
// was unreachable, answered with a non-success status, or the event
// stream was cut before a terminal phase arrived.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("provisioning stream: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BuildFailedError reports that the provisioning service itself
// declared the build failed.
type BuildFailedError struct {
	// Message is the raw message carried by the failed phase, if any.
	Message string
}

func (e *BuildFailedError) Error() string {
	if e.Message == "" {
		return "provisioning build failed"
	}
	return fmt.Sprintf("provisioning build failed: %s", e.Message)
}
