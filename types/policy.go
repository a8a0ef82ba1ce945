package types

import (
	"fmt"
	"strings"
)

// Policy controls how existing data that disagrees with the new shape is treated.
type Policy string

const (
	// PolicyStrict validates and converts existing data and fails on violation.
	PolicyStrict Policy = "strict"
	// PolicyRelaxed converts on a best-effort basis and leaves bad values untouched.
	PolicyRelaxed Policy = "relaxed"
)

// ParsePolicy parses a policy name. An empty string means strict.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyStrict:
		return PolicyStrict, nil
	case PolicyRelaxed:
		return PolicyRelaxed, nil
	}
	return "", fmt.Errorf("unknown policy %q", s)
}

func (p Policy) Strict() bool { return p != PolicyRelaxed }

// Direction of a migration run.
type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// ParseDirection is the inverse of Direction.String.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "forward", "":
		return Forward, nil
	case "backward":
		return Backward, nil
	}
	return Forward, fmt.Errorf("unknown direction %q", s)
}
