package db

import "strings"

// IsCheckViolation reports whether the provided error references a check
// constraint. When constraintName is provided, the helper looks for the
// constraint text in the error message; this covers both Postgres and the
// sqlite driver used in tests.
func IsCheckViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if constraintName != "" && strings.Contains(msg, constraintName) {
		return true
	}
	return strings.Contains(msg, "check constraint")
}

// IsUniqueViolation reports whether the provided error references a unique
// violation constraint.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if constraintName != "" {
		return strings.Contains(msg, constraintName)
	}
	return strings.Contains(msg, "duplicate key value")
}
