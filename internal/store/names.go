package store

import "strings"

// MaxNameLen is the longest entry name the store accepts, per spec.md §6.
const MaxNameLen = 255

// validateName enforces spec.md §6's name constraints: non-empty, at most
// 255 bytes, no '/' or NUL, and not "." or "..".
func validateName(name string) bool {
	if name == "" || len(name) > MaxNameLen {
		return false
	}
	if name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\x00")
}
