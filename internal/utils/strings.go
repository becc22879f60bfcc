// Package utils provides common utility functions.
package utils

// MaskSignature masks a thought signature for safe logging (shows first 8
// and last 4 chars). Signatures are opaque upstream tokens; never log one
// in full.
func MaskSignature(sig string) string {
	if sig == "" {
		return "(empty)"
	}
	if len(sig) < 16 {
		return "****"
	}
	return sig[:8] + "..." + sig[len(sig)-4:]
}

// Truncate shortens s to at most n runes, appending an ellipsis when
// anything was cut. Used for prompt previews in debug logs.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
