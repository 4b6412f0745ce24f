package tts

import (
	"errors"
	"fmt"
)

// ErrSpeakerMismatch is returned when a request's speaker belongs to a
// different generator than the provider it was sent to.
var ErrSpeakerMismatch = errors.New("tts: speaker belongs to another generator")

// BackendError describes a failed call to a synthesis backend. It is always
// transient from the caller's point of view: the utterance is dropped and
// nothing is retried.
type BackendError struct {
	// Generator is the backend that failed.
	Generator Generator

	// Op names the failing endpoint (e.g., "audio_query", "predict").
	Op string

	// StatusCode is the HTTP status, or 0 when the request never completed.
	StatusCode int

	// Body holds a truncated copy of the error response body, if any.
	Body string

	// Err is the underlying transport error, if any.
	Err error
}

func (e *BackendError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("tts: %s %s: %v", e.Generator, e.Op, e.Err)
	case e.Body != "":
		return fmt.Sprintf("tts: %s %s: status %d: %s", e.Generator, e.Op, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("tts: %s %s: status %d", e.Generator, e.Op, e.StatusCode)
	}
}

func (e *BackendError) Unwrap() error { return e.Err }
