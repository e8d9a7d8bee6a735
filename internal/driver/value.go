package driver

// Value is the unit value a Driver populates while running a Plan: a bag
// of named fields, the runtime stand-in for the "unit value being
// populated" spec.md §4.8 says a Driver optionally owns. Repeated fields
// (inside a Loop) accumulate into a slice under the same name.
type Value struct {
	fields map[string]any
}

// NewValue returns an empty Value.
func NewValue() *Value {
	return &Value{fields: map[string]any{}}
}

// Set stores val under name, overwriting any previous scalar value. A
// blank name is a no-op, matching &transient/&anonymous fields that parse
// but are never stored.
func (v *Value) Set(name string, val any) {
	if name == "" {
		return
	}
	v.fields[name] = val
}

// Append adds val to the slice stored under name, creating it if absent.
// Used by AssignField when executing inside a Loop body, so repeated
// fields collect into a container rather than overwriting each other.
func (v *Value) Append(name string, val any) {
	if name == "" {
		return
	}
	cur, _ := v.fields[name].([]any)
	v.fields[name] = append(cur, val)
}

// Get returns the named field and whether it was ever set.
func (v *Value) Get(name string) (any, bool) {
	val, ok := v.fields[name]
	return val, ok
}

// Fields returns the underlying field map. Callers must not mutate it;
// treat it as a read-only snapshot for inspection by the host.
func (v *Value) Fields() map[string]any {
	return v.fields
}

// snapshot captures the current field set for Skip's discard-on-exit
// semantics (spec.md §3 table, "Skip matches Inner but discards its
// value").
func (v *Value) snapshot() map[string]any {
	cp := make(map[string]any, len(v.fields))
	for k, val := range v.fields {
		cp[k] = val
	}
	return cp
}

func (v *Value) restore(snap map[string]any) {
	v.fields = snap
}
