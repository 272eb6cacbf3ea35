package domain

import (
	"fmt"
)

// APIVersion is a route or token API version, validated at parse time.
type APIVersion string

const (
	APIVersionV1 APIVersion = "v1"
)

// versionOrder ranks known versions; higher is newer.
var versionOrder = map[APIVersion]int{
	APIVersionV1: 1,
}

func ParseAPIVersion(s string) (APIVersion, error) {
	v := APIVersion(s)
	if _, ok := versionOrder[v]; !ok {
		return "", fmt.Errorf("unknown API version: %s", s)
	}
	return v, nil
}

func (v APIVersion) String() string {
	return string(v)
}

func (v APIVersion) IsNil() bool {
	return v == ""
}

// IsAtLeast reports whether v is the same as or newer than other.
// An unknown v is older than everything; an unknown other is older than any known v.
func (v APIVersion) IsAtLeast(other APIVersion) bool {
	thisOrder, thisOK := versionOrder[v]
	otherOrder, otherOK := versionOrder[other]
	if !thisOK {
		return false
	}
	if !otherOK {
		return true
	}
	return thisOrder >= otherOrder
}

// DefaultVersion is stamped on newly minted principal tokens.
func DefaultVersion() APIVersion {
	return APIVersionV1
}
