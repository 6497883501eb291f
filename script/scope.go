package script

import "strings"

// Scope is a variable-name -> Value mapping with a parent link, forming the
// lexical environment lookup walks. Reserved names begin with "." (e.g.
// .PWD, .FILE, .LINE, .COL); ordinary Set refuses to write them.
type Scope struct {
	parent *Scope
	vars   map[string]Value
}

// NewScope creates a root scope with no parent.
func NewScope() *Scope {
	return &Scope{vars: make(map[string]Value)}
}

// NewChildScope creates a scope whose lookups fall through to parent when a
// name is not found locally.
func NewChildScope(parent *Scope) *Scope {
	return &Scope{parent: parent, vars: make(map[string]Value)}
}

// IsReserved reports whether name begins with the "." reserved prefix.
func IsReserved(name string) bool {
	return strings.HasPrefix(name, ".")
}

// Lookup walks the parent chain for name, returning ok=false if no scope in
// the chain defines it.
func (s *Scope) Lookup(name string) (Value, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if v, ok := sc.vars[name]; ok {
			return v, true
		}
	}
	return Value{}, false
}

// Set stores a single-element value sequence under name in this scope.
// Reserved (dot-prefixed) names can only be written via SetReserved.
func (s *Scope) Set(name, val string, file string, line int) error {
	if name == "" {
		return errEmptyName
	}
	if IsReserved(name) {
		return errReservedName(name)
	}
	s.vars[name] = Value{Strings: []string{val}, File: file, Line: line}
	return nil
}

// SetAll stores vals as-is (including a nil/empty slice) under name in this
// scope.
func (s *Scope) SetAll(name string, vals []string, file string, line int) error {
	if name == "" {
		return errEmptyName
	}
	if IsReserved(name) {
		return errReservedName(name)
	}
	s.vars[name] = Value{Strings: vals, File: file, Line: line}
	return nil
}

// SetReserved writes a dot-prefixed name such as .PWD/.FILE/.LINE/.COL. Its
// callers are the evaluator (.LINE/.COL at each call site), the include
// builtin, and the code that seeds a root context before evaluation; no
// other script-visible builtin writes reserved names.
func (s *Scope) SetReserved(name, val string) {
	s.vars[name] = Value{Strings: []string{val}}
}
