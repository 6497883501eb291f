package script

// Value is the canonical representation of a variable's contents: an
// ordered sequence of strings, plus the source location where it was last
// assigned. The empty sequence (Strings == nil) is distinct from a
// one-element sequence containing the empty string (Strings == []string{""}).
type Value struct {
	Strings []string
	File    string
	Line    int
}

// Joined concatenates the non-empty elements of v with single-space
// separators, the semantics `get*` exposes to scripts.
func (v Value) Joined() string {
	var out string
	for _, s := range v.Strings {
		if s == "" {
			continue
		}
		if out != "" {
			out += " "
		}
		out += s
	}
	return out
}

// First returns the first element of the value sequence, or the empty
// string if the sequence is empty — the semantics `get` exposes.
func (v Value) First() string {
	if len(v.Strings) == 0 {
		return ""
	}
	return v.Strings[0]
}

// Truthy implements the argument-truth rule used for control-construct
// conditions: true iff the sequence has exactly one element and that
// element is non-empty.
func Truthy(args []string) bool {
	return len(args) == 1 && args[0] != ""
}
