package invoker

import (
	"regexp"
	"strings"
	"time"
)

// authFailureSignatures are substrings recognized in agent stdout/stderr as
// unrecoverable authentication failures, as opposed to a transient failure
// worth retrying.
var authFailureSignatures = []string{
	"invalid api key",
	"authentication_error",
	"401 unauthorized",
	"please run `claude login`",
	"credentials not found",
}

// rateLimitSignature captures a rate-limit message's resume-at timestamp,
// when the agent reports one in ISO-8601 form.
var rateLimitSignature = regexp.MustCompile(`(?i)rate.?limit(?:ed)?.*?resets?\s+at\s+([0-9T:+\-Z]+)`)

func detectAuthFailure(raw []byte) bool {
	lower := strings.ToLower(string(raw))
	for _, sig := range authFailureSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// detectRateLimit reports whether raw contains a recognized rate-limit
// signature, returning the matched text and the parsed resume time (zero
// value if the timestamp couldn't be parsed).
func detectRateLimit(raw []byte) (signature string, resumeAt time.Time, ok bool) {
	m := rateLimitSignature.FindSubmatch(raw)
	if m == nil {
		return "", time.Time{}, false
	}
	signature = string(m[0])
	if t, err := time.Parse(time.RFC3339, string(m[1])); err == nil {
		resumeAt = t
	}
	return signature, resumeAt, true
}
