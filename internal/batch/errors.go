package batch

import "fmt"

// AdmissionError reports invalid run options or a malformed item list. It is
// raised before any item is scheduled and is the only error that crosses the
// run boundary; everything after admission is captured into the Summary.
type AdmissionError struct {
	Reason string
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("batch admission: %s", e.Reason)
}

func admissionErrorf(format string, args ...any) *AdmissionError {
	return &AdmissionError{Reason: fmt.Sprintf(format, args...)}
}
