// Package status folds free-form status tokens reported by stations, posts and slots
// into a closed set of semantic classes.
package status

import "strings"

// Class is the semantic class of a raw slot status token.
type Class int

const (
	Unknown Class = iota
	Available
	Maintenance
	Occupied
	Reserved
)

var classNames = [...]string{
	Unknown:     "unknown",
	Available:   "available",
	Maintenance: "maintenance",
	Occupied:    "occupied",
	Reserved:    "reserved",
}

func (c Class) String() string {
	if c < 0 || int(c) >= len(classNames) {
		return classNames[Unknown]
	}
	return classNames[c]
}

// synonyms maps every accepted token, lower-cased, to its class.
var synonyms = map[string]Class{
	"available":   Available,
	"maintenance": Maintenance,
	"occupied":    Occupied,
	"charging":    Occupied,
	"in_use":      Occupied,
	"in-progress": Occupied,
	"in_progress": Occupied,
	"busy":        Occupied,
	"reserved":    Reserved,
}

// Normalize trims and lower-cases a raw token.
func Normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Classify maps a raw token to its class. Unrecognized tokens are Unknown and must be
// treated as unavailable by callers.
func Classify(raw string) Class {
	if c, ok := synonyms[Normalize(raw)]; ok {
		return c
	}
	return Unknown
}

// Is reports whether raw folds to c.
func Is(raw string, c Class) bool {
	return Classify(raw) == c
}

// Equal compares two tokens case-insensitively.
func Equal(raw, want string) bool {
	return Normalize(raw) == Normalize(want)
}

// Holding reports whether a slot in raw status is held by a session (reserved or occupied).
func Holding(raw string) bool {
	switch Classify(raw) {
	case Reserved, Occupied:
		return true
	default:
		return false
	}
}
