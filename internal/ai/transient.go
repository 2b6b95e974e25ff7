package ai

import "strings"

// nonTransientPatterns are failures no retry or provider switch can fix:
// auth, billing, quota, and model-identity errors. Checked before the
// transient patterns so "quota exceeded" never reads as retryable.
var nonTransientPatterns = []string{
	"invalid api key",
	"incorrect api key",
	"api key is invalid",
	"authentication",
	"unauthorized",
	"permission denied",
	"401",
	"403",
	"billing",
	"payment required",
	"quota exhausted",
	"quota exceeded",
	"insufficient credits",
	"insufficient_credits",
	"model not found",
	"not_found_error",
	"unknown model",
	"invalid model",
	"unsupported for",
}

// transientPatterns are failures worth a same-provider retry or a provider
// switch: rate limits, upstream hiccups, and network trouble.
var transientPatterns = []string{
	"429",
	"rate limit",
	"too many requests",
	"500",
	"502",
	"503",
	"504",
	"service unavailable",
	"bad gateway",
	"internal server error",
	"overloaded",
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection reset",
	"connection refused",
	"broken pipe",
	"temporarily",
	"unexpected eof",
	"no such host",
}

// IsTransient classifies an error message as likely recoverable by a retry
// or provider switch. Non-transient categories win on conflict.
func IsTransient(message string) bool {
	if message == "" {
		return false
	}
	lower := strings.ToLower(message)

	for _, p := range nonTransientPatterns {
		if strings.Contains(lower, p) {
			return false
		}
	}
	for _, p := range transientPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// IsTransientErr is IsTransient over an error value.
func IsTransientErr(err error) bool {
	if err == nil {
		return false
	}
	return IsTransient(err.Error())
}
