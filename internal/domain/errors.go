package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrEnumeration means process listing failed. Transient; no transition.
	ErrEnumeration = errors.New("process enumeration failed")

	// ErrDisplayQuery means the host could not enumerate displays.
	ErrDisplayQuery = errors.New("display query failed")

	// ErrDisplayApply means topology did not fully converge.
	ErrDisplayApply = errors.New("display apply failed")

	// ErrConsistency means live topology disagrees with the expected state.
	ErrConsistency = errors.New("display topology inconsistent")

	// ErrTimeout means a host call exceeded its bound.
	ErrTimeout = errors.New("host call timed out")

	// ErrNoBaseline means no baseline is held or cached.
	ErrNoBaseline = errors.New("no baseline topology")
)

// ApplyError reports a partial or total convergence failure.
// Changed lists the monitors whose change was confirmed before the failure.
type ApplyError struct {
	Changed []string
	Failed  map[string]error
}

func (e *ApplyError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %v", id, e.Failed[id]))
	}
	return fmt.Sprintf("%v: %d changed, %d failed (%s)",
		ErrDisplayApply, len(e.Changed), len(e.Failed), strings.Join(parts, "; "))
}

func (e *ApplyError) Unwrap() error { return ErrDisplayApply }

// Partial reports whether some monitors were changed before the failure.
func (e *ApplyError) Partial() bool { return len(e.Changed) > 0 }

// ConsistencyError lists monitors whose live enabled flag is not the expected one.
type ConsistencyError struct {
	Mismatched []string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%v: %s", ErrConsistency, strings.Join(e.Mismatched, ", "))
}

func (e *ConsistencyError) Unwrap() error { return ErrConsistency }
