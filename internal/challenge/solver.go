// Package challenge solves the interactive login challenge presented
// by the gateway panel.
package challenge

import (
	"regexp"
	"strconv"
)

var arithmeticPattern = regexp.MustCompile(`(\d+)\s*\+\s*(\d+)`)

// Arithmetic solves the "<int> + <int>" challenge embedded in the
// login page text. It is a pure function of page content, decoupled
// from the browser automation that rendered it.
type Arithmetic struct{}

// New returns an Arithmetic solver.
func New() *Arithmetic {
	return &Arithmetic{}
}

// Solve scans the text for the first "<int> + <int>" expression and
// returns its sum. found is false when no expression is present.
func (Arithmetic) Solve(pageText string) (int, bool) {
	m := arithmeticPattern.FindStringSubmatch(pageText)
	if m == nil {
		return 0, false
	}
	a, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	b, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, false
	}
	return a + b, true
}
