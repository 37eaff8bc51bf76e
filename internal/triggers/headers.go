package triggers

import "net/http"

// maxTriggerBodyBytes caps the size of an inbound trigger request body
// (REST, SOAP, MCP) so a misbehaving or malicious caller can't force the
// engine to buffer an unbounded payload into memory before decoding it.
const maxTriggerBodyBytes int64 = 8 << 20 // 8MiB

// limitBody wraps r.Body in an http.MaxBytesReader bounded by
// maxTriggerBodyBytes. A decode that overruns the limit fails with a
// "request body too large" error instead of exhausting memory.
func limitBody(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil && r.Body != http.NoBody {
		r.Body = http.MaxBytesReader(w, r.Body, maxTriggerBodyBytes)
	}
}

// firstHeaders flattens an http.Header into a map keyed by header name,
// keeping only the first value for each key. REST, SOAP, and MCP triggers
// all forward inbound headers to the executor this same way; multi-value
// headers (e.g. Set-Cookie) are uncommon on inbound trigger requests, and
// callers needing every value can inspect the raw request elsewhere.
func firstHeaders(h http.Header) map[string]interface{} {
	out := make(map[string]interface{}, len(h))
	for k, vv := range h {
		if len(vv) > 0 {
			out[k] = vv[0]
		}
	}
	return out
}
