// Package statemachine provides a validated state-transition table. It
// backs both the Event Store's status transitions (pkg/store/events.go)
// and the Scenario Runner's lifecycle transitions (pkg/store/scenarios.go)
// by answering one question, is this move legal from here, against a
// declared table rather than ad hoc conditionals.
package statemachine

// Table maps a state to the set of states it may legally transition to.
type Table[S ~string] map[S][]S

// IsValid reports whether to is reachable from from per the table. An empty
// table (nil) allows every transition, useful for tests.
func (t Table[S]) IsValid(from, to S) bool {
	if t == nil {
		return true
	}
	allowed, ok := t[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// SourceStates returns every state the table allows transitioning into to,
// in unspecified order. Useful for building a query's eligible-source-state
// set directly from the table instead of duplicating it as a literal.
func (t Table[S]) SourceStates(to S) []S {
	var out []S
	for from, allowed := range t {
		for _, s := range allowed {
			if s == to {
				out = append(out, from)
				break
			}
		}
	}
	return out
}
