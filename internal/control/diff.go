package control

import "fmt"

// Transition is a single field change between two snapshots.
type Transition struct {
	Field FieldID
	Old   Value
	New   Value
}

// String renders the transition as "field: old -> new".
func (t Transition) String() string {
	return fmt.Sprintf("%s: %s -> %s", t.Field, t.Field.Format(t.Old), t.Field.Format(t.New))
}

// Diff compares two complete snapshots field by field and returns one
// transition per changed field, in [Fields] order. Equal snapshots
// yield no transitions.
func Diff(prev, cur Control) []Transition {
	var out []Transition
	for _, f := range Fields() {
		if o, n := prev.Get(f), cur.Get(f); o != n {
			out = append(out, Transition{Field: f, Old: o, New: n})
		}
	}
	return out
}
