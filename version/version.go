// Package version implements the ordered version model and version
// constraints: a fixed-width integer tuple, not semver, as a small
// Stringer/Comparer value type living beside its parse function.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// maxParts bounds how many dot/dash-separated components a version
// may carry (at most ten components).
const maxParts = 10

// Version is an ordered sequence of small non-negative integers,
// compared lexicographically with missing trailing components treated
// as zero. Equality ignores the original string.
type Version struct {
	parts    [maxParts]uint32
	numParts int
	original string
}

// Parse parses s into a Version. Both '.' and '-' are treated as
// component separators (R package versions routinely mix them, e.g.
// "1.7-7-1").
func Parse(s string) (Version, error) {
	trimmed := strings.TrimSpace(s)
	normalized := strings.ReplaceAll(trimmed, "-", ".")
	fields := strings.Split(normalized, ".")
	if len(fields) > maxParts {
		return Version{}, fmt.Errorf("version %q has more than %d components", s, maxParts)
	}

	var v Version
	for i, f := range fields {
		n, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			return Version{}, fmt.Errorf("%q cannot be parsed as a version: %w", s, err)
		}
		v.parts[i] = uint32(n)
	}
	v.numParts = len(fields)
	v.original = trimmed
	return v, nil
}

// MustParse is like Parse but panics on error; intended for tests and
// literal version constants.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the original textual form, not a canonicalized one.
func (v Version) String() string {
	return v.original
}

// IsZero reports whether v is the unparsed zero value.
func (v Version) IsZero() bool {
	return v.numParts == 0 && v.original == ""
}

// MajorMinor returns the first two components, meant for runtime
// (host interpreter) versions.
func (v Version) MajorMinor() [2]uint32 {
	return [2]uint32{v.parts[0], v.parts[1]}
}

// Compare returns -1, 0 or 1 as v is less than, equal to, or greater
// than other, comparing all ten components (missing ones are zero).
func (v Version) Compare(other Version) int {
	for i := 0; i < maxParts; i++ {
		if v.parts[i] < other.parts[i] {
			return -1
		}
		if v.parts[i] > other.parts[i] {
			return 1
		}
	}
	return 0
}

func (v Version) Equal(other Version) bool      { return v.Compare(other) == 0 }
func (v Version) LessThan(other Version) bool    { return v.Compare(other) < 0 }
func (v Version) GreaterThan(other Version) bool { return v.Compare(other) > 0 }

// HazyMatch reports whether the first k components of v (k being the
// number of components literally present in v's textual form) equal
// the first k components of other. This lets a lockfile recorded at
// runtime "4.4" accept the currently active "4.4.3".
func (v Version) HazyMatch(other Version) bool {
	for i := 0; i < v.numParts; i++ {
		if v.parts[i] != other.parts[i] {
			return false
		}
	}
	return true
}

// Operator is a version-constraint comparison operator.
type Operator int

const (
	Equal Operator = iota
	Greater
	Lower
	GreaterOrEqual
	LowerOrEqual
)

func (op Operator) String() string {
	switch op {
	case Equal:
		return "=="
	case Greater:
		return ">"
	case Lower:
		return "<"
	case GreaterOrEqual:
		return ">="
	case LowerOrEqual:
		return "<="
	default:
		return "?"
	}
}

// ParseOperator parses one of ==, <, <=, >, >=.
func ParseOperator(s string) (Operator, error) {
	switch strings.TrimSpace(s) {
	case "==":
		return Equal, nil
	case ">":
		return Greater, nil
	case "<":
		return Lower, nil
	case ">=":
		return GreaterOrEqual, nil
	case "<=":
		return LowerOrEqual, nil
	default:
		return 0, fmt.Errorf("invalid operator %q", s)
	}
}

// Constraint pairs an operator with a version.
type Constraint struct {
	Op      Operator
	Version Version
}

// IsSatisfied reports whether v satisfies the constraint.
func (c Constraint) IsSatisfied(v Version) bool {
	switch c.Op {
	case Equal:
		return v.Equal(c.Version)
	case Greater:
		return v.GreaterThan(c.Version)
	case Lower:
		return v.LessThan(c.Version)
	case GreaterOrEqual:
		return v.Compare(c.Version) >= 0
	case LowerOrEqual:
		return v.Compare(c.Version) <= 0
	default:
		return false
	}
}

func (c Constraint) String() string {
	return fmt.Sprintf("(%s %s)", c.Op, c.Version)
}

// ParseConstraint parses a string of the form "(>= 4.5)".
func ParseConstraint(s string) (Constraint, error) {
	var current strings.Builder
	var op *Operator
	var v *Version

	for _, c := range strings.TrimSpace(s) {
		switch c {
		case '(':
			continue
		case ' ':
			if op == nil {
				parsed, err := ParseOperator(current.String())
				if err != nil {
					return Constraint{}, fmt.Errorf("invalid operator %q in %q: %w", current.String(), s, err)
				}
				op = &parsed
				current.Reset()
			}
			continue
		case ')':
			parsed, err := Parse(current.String())
			if err != nil {
				return Constraint{}, fmt.Errorf("invalid version %q in %q: %w", current.String(), s, err)
			}
			v = &parsed
			continue
		default:
			current.WriteRune(c)
		}
	}

	if v == nil {
		return Constraint{}, fmt.Errorf("missing version in %q", s)
	}
	if op == nil {
		return Constraint{}, fmt.Errorf("missing operator in %q", s)
	}

	return Constraint{Op: *op, Version: *v}, nil
}
