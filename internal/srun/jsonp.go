package srun

import (
	"bytes"
	"fmt"
)

// DefaultCallback is the JSONP callback name sent with every request.
const DefaultCallback = "sdu"

// unwrapJSONP strips the "<callback>(" prefix and ")" suffix around a JSON body.
// Surrounding whitespace and a trailing semicolon are tolerated.
func unwrapJSONP(body []byte, callback string) ([]byte, error) {
	body = bytes.TrimSpace(body)
	body = bytes.TrimSuffix(body, []byte(";"))

	prefix := callback + "("
	if !bytes.HasPrefix(body, []byte(prefix)) {
		return nil, fmt.Errorf("missing %q prefix in %q: %w", prefix, preview(body), ErrMalformedResponse)
	}
	if !bytes.HasSuffix(body, []byte(")")) || len(body) < len(prefix)+1 {
		return nil, fmt.Errorf("missing closing parenthesis in %q: %w", preview(body), ErrMalformedResponse)
	}
	return body[len(prefix) : len(body)-1], nil
}

func preview(b []byte) string {
	const limit = 64
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
