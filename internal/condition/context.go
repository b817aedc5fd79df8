// Copyright Contributors to the Sykli project

// Package condition evaluates task `when` predicates — both the
// structured tree form and the string DSL — against a single run
// Context.
package condition

// Context is the run-time context conditions are evaluated against.
type Context struct {
	Branch string
	Tag    string
	Event  string
	InCI   bool
	// Fields holds arbitrary key/value pairs: matrix dimension values,
	// pipeline parameters, and any other named field a Field() leaf
	// may reference.
	Fields map[string]string
}

// Get returns a named field's value and whether it was present.
// Branch, Tag, and Event are also reachable by name ("branch", "tag",
// "event") so Field() leaves can refer to them without duplicating
// state; InCI is not reachable by name.
func (c Context) Get(name string) (string, bool) {
	switch name {
	case "branch":
		return c.Branch, true
	case "tag":
		return c.Tag, true
	case "event":
		return c.Event, true
	}
	if c.Fields == nil {
		return "", false
	}
	v, ok := c.Fields[name]
	return v, ok
}
