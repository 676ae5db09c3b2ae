package enums

import "fmt"

// CoverType maps to the cover_type enum in Postgres.
type CoverType string

const (
	CoverHard CoverType = "HARD"
	CoverSoft CoverType = "SOFT"
)

var validCoverTypes = []CoverType{CoverHard, CoverSoft}

// IsValid reports whether the value matches the canonical cover_type enum.
func (c CoverType) IsValid() bool {
	for _, candidate := range validCoverTypes {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCoverType converts raw input into CoverType.
func ParseCoverType(value string) (CoverType, error) {
	for _, candidate := range validCoverTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid cover type %q", value)
}
