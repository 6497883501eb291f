package script

// ParserContext owns a scope plus the child contexts it has created. It is
// the unit split() forks for safe concurrent evaluation of sibling script
// regions.
//
// Realization: each context owns a local variable map (its Scope) and a
// parent pointer. split() either reuses the calling context's own parent
// (when the caller has no local variables yet) or creates a fresh
// intermediate parent scope holding the calling context's current
// variables, so that writes made after split() on either side are
// invisible to the other.
type ParserContext struct {
	scope    *Scope
	children []*ParserContext

	// builtins/logger/graph registration live on the Evaluator, not here;
	// ParserContext is purely the variable-scoping half of evaluation
	// state so that split() has nothing else to reason about.
}

// NewRootContext creates a context with a fresh, empty root scope.
func NewRootContext() *ParserContext {
	return &ParserContext{scope: NewScope()}
}

// Scope returns the context's scope.
func (pc *ParserContext) Scope() *Scope { return pc.scope }

// Split produces a new child context that sees the current scope's
// variables via inheritance but whose mutations are invisible to pc, and
// vice versa after the split.
func (pc *ParserContext) Split() *ParserContext {
	var childParent *Scope
	if len(pc.scope.vars) == 0 {
		// No local variables to protect: the child can share pc's parent
		// directly, and pc's own scope will keep accumulating independently
		// of the child's (neither map is shared).
		childParent = pc.scope.parent
	} else {
		// Snapshot pc's current bindings into a fresh intermediate scope so
		// that later Sets on pc.scope (a live, mutable map) are never
		// observed through childParent.
		snapshot := NewChildScope(pc.scope.parent)
		for k, v := range pc.scope.vars {
			snapshot.vars[k] = v
		}
		childParent = snapshot
	}
	child := &ParserContext{scope: NewChildScope(childParent)}
	pc.children = append(pc.children, child)
	return child
}
