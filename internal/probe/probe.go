package probe

import "context"

// Result is the outcome of a single probe.
//
// Fields:
//   - StatusCode: HTTP status when an exchange completed; nil on transport failure.
//   - Error: non-empty only when no HTTP exchange completed.
//   - LatencyMS: whole milliseconds around the request, failures included.
type Result struct {
	Up         bool
	StatusCode *int
	Error      string
	LatencyMS  int64
}

// Prober performs one check against a URL. Failures are reported in the
// Result, never as an error.
type Prober interface {
	Probe(ctx context.Context, url string) Result
}

// Classify reports whether a status code counts as up.
func Classify(code int) bool {
	return code >= 200 && code < 400
}
