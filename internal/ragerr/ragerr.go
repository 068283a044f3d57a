// Package ragerr defines the error taxonomy shared by every command.
//
// Each failure is tagged with one of a small set of kinds so structured logs
// carry a stable error_kind field regardless of the wrapped detail. Kinds are
// plain sentinel errors; wrap them with fmt.Errorf("...: %w", kind) and test
// with errors.Is.
package ragerr

import "errors"

var (
	// ErrConfig covers missing DSN, dim mismatch, unknown device, and
	// invalid window/overlap parameters.
	ErrConfig = errors.New("config")

	// ErrIO covers network failures, non-2xx HTTP responses, and timeouts.
	ErrIO = errors.New("io")

	// ErrParse covers malformed RSS and undecodable HTML.
	ErrParse = errors.New("parse")

	// ErrStore covers database unavailability, constraint violations, and
	// aborted transactions.
	ErrStore = errors.New("store")

	// ErrModel covers model download, ONNX load, and inference failures.
	ErrModel = errors.New("model")

	// ErrInvariant covers detected corruption, e.g. an embedding whose chunk
	// is gone.
	ErrInvariant = errors.New("invariant")

	// ErrNotFound covers empty filter selections and missing embeddings at
	// query time.
	ErrNotFound = errors.New("not-found")
)

// Kind returns the stable kind string for err, or "" when err carries none.
func Kind(err error) string {
	for _, k := range []error{ErrConfig, ErrIO, ErrParse, ErrStore, ErrModel, ErrInvariant, ErrNotFound} {
		if errors.Is(err, k) {
			return k.Error()
		}
	}
	return ""
}

// Fatal reports whether err must abort the whole command rather than being
// counted and skipped inside a batch loop.
func Fatal(err error) bool {
	switch Kind(err) {
	case "config", "model", "store", "invariant":
		return true
	}
	return false
}
