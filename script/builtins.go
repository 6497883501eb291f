package script

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/xerrors"

	"github.com/mbld/mbld/graph"
	"github.com/mbld/mbld/scheduler"
)

// HandlerFunc is the Go function a builtin dispatches to once its argument
// list has been fully evaluated (or, for lazy builtins, once the arguments
// it chose to evaluate have been). args[0] is always the function's own
// name, matching the call-site argument vector.
type HandlerFunc func(ev *Evaluator, pc *ParserContext, args []string) ([]string, error)

// builtin is one entry of the function registry. Most builtins evaluate
// every argument before dispatch (AlwaysEvalArguments); a handful — if,
// and, or — instead decide,
// argument by argument, whether the next one needs evaluating at all, which
// is what lets a false condition's untaken branch go completely unevaluated.
type builtin struct {
	name                string
	alwaysEvalArguments bool

	// evalNextArgument, when alwaysEvalArguments is false, is consulted
	// before parsing each argument after the first: given the (function
	// name plus already-evaluated) arguments so far, it reports whether
	// the next argument should be evaluated for real or merely parsed in
	// skip mode.
	evalNextArgument func(argsSoFar []string) bool

	handler HandlerFunc
}

// registerBuiltins returns the name -> builtin table every Evaluator shares.
func registerBuiltins() map[string]*builtin {
	reg := map[string]*builtin{}
	add := func(b *builtin) { reg[b.name] = b }

	add(&builtin{name: "add", alwaysEvalArguments: true, handler: biAdd})
	add(&builtin{name: "eq", alwaysEvalArguments: true, handler: biEq})
	add(&builtin{name: "equ", alwaysEvalArguments: true, handler: biEq})
	add(&builtin{name: "neq", alwaysEvalArguments: true, handler: biNeq})
	add(&builtin{name: "get", alwaysEvalArguments: true, handler: biGet})
	add(&builtin{name: "get@", alwaysEvalArguments: true, handler: biGetAt})
	add(&builtin{name: "get*", alwaysEvalArguments: true, handler: biGetStar})
	add(&builtin{name: "set", alwaysEvalArguments: true, handler: biSet})
	add(&builtin{name: "seta", alwaysEvalArguments: true, handler: biSetA})
	add(&builtin{name: "print", alwaysEvalArguments: true, handler: biPrint})
	add(&builtin{name: "include", alwaysEvalArguments: true, handler: biInclude})
	add(&builtin{name: "touch-node", alwaysEvalArguments: true, handler: biTouchNode})
	add(&builtin{name: "run-node", alwaysEvalArguments: true, handler: biRunNode})

	// if is the lazy expression-form builtin: arg 1 (the condition) is
	// always evaluated; only the branch it selects gets evaluated for
	// real. It is distinct from the [if]/[then]/[else]/[fi] statement
	// construct, which parseIf handles directly.
	add(&builtin{
		name: "if", alwaysEvalArguments: false, handler: biIf,
		evalNextArgument: func(argsSoFar []string) bool {
			switch len(argsSoFar) {
			case 2: // condition already evaluated, deciding on the then-branch
				return Truthy(argsSoFar[1:])
			case 3: // deciding on the else-branch
				return !Truthy(argsSoFar[1:2])
			default:
				return true
			}
		},
	})

	add(&builtin{name: "strlen", alwaysEvalArguments: true, handler: biStrlen})
	add(&builtin{name: "cat", alwaysEvalArguments: true, handler: biCat})
	add(&builtin{name: "shell-split", alwaysEvalArguments: true, handler: biShellSplit})
	add(&builtin{name: "not", alwaysEvalArguments: true, handler: biNot})

	// and/or short-circuit: they only need the next argument evaluated
	// while the running verdict hasn't been decided yet. Their handler
	// re-derives the verdict by scanning the arguments in order: the
	// deciding argument always comes before the skipped tail (whose nested
	// calls still occupy their positions as empty arguments), so the scan
	// stops at it before reaching anything that was not evaluated.
	add(&builtin{
		name: "and", alwaysEvalArguments: false, handler: biAnd,
		evalNextArgument: func(argsSoFar []string) bool {
			for _, a := range argsSoFar[1:] {
				if a == "" {
					return false
				}
			}
			return true
		},
	})
	add(&builtin{
		name: "or", alwaysEvalArguments: false, handler: biOr,
		evalNextArgument: func(argsSoFar []string) bool {
			for _, a := range argsSoFar[1:] {
				if a != "" {
					return false
				}
			}
			return true
		},
	})

	return reg
}

func joinArgs(args []string) string { return strings.Join(args, "") }

func biIf(ev *Evaluator, pc *ParserContext, args []string) ([]string, error) {
	if len(args) != 3 && len(args) != 4 {
		return nil, xerrors.Errorf("if: expected 2 or 3 arguments (cond, then, [else]), got %d", len(args)-1)
	}
	if Truthy(args[1:2]) {
		return []string{args[2]}, nil
	}
	if len(args) == 4 {
		return []string{args[3]}, nil
	}
	return nil, nil
}

func biAdd(ev *Evaluator, pc *ParserContext, args []string) ([]string, error) {
	if len(args)-1 < 2 {
		return nil, xerrors.Errorf("add: expected at least two arguments, got %d", len(args)-1)
	}
	sum := 0
	for _, a := range args[1:] {
		n, err := strconv.Atoi(strings.TrimSpace(a))
		if err != nil {
			return nil, xerrors.Errorf("add: %q is not an integer: %w", a, err)
		}
		sum += n
	}
	return []string{strconv.Itoa(sum)}, nil
}

func biEq(ev *Evaluator, pc *ParserContext, args []string) ([]string, error) {
	if len(args) != 3 {
		return nil, xerrors.Errorf("eq: expected exactly two arguments, got %d", len(args)-1)
	}
	if args[1] == args[2] {
		return []string{"t"}, nil
	}
	return []string{}, nil
}

func biNeq(ev *Evaluator, pc *ParserContext, args []string) ([]string, error) {
	res, err := biEq(ev, pc, args)
	if err != nil {
		return nil, err
	}
	if Truthy(res) {
		return []string{}, nil
	}
	return []string{"t"}, nil
}

func biGet(ev *Evaluator, pc *ParserContext, args []string) ([]string, error) {
	if len(args) != 2 {
		return nil, xerrors.Errorf("get: expected exactly one argument, got %d", len(args)-1)
	}
	v, _ := pc.Scope().Lookup(args[1])
	return []string{v.First()}, nil
}

func biGetAt(ev *Evaluator, pc *ParserContext, args []string) ([]string, error) {
	if len(args) != 2 {
		return nil, xerrors.Errorf("get@: expected exactly one argument, got %d", len(args)-1)
	}
	v, _ := pc.Scope().Lookup(args[1])
	return append([]string(nil), v.Strings...), nil
}

func biGetStar(ev *Evaluator, pc *ParserContext, args []string) ([]string, error) {
	if len(args) != 2 {
		return nil, xerrors.Errorf("get*: expected exactly one argument, got %d", len(args)-1)
	}
	v, _ := pc.Scope().Lookup(args[1])
	return []string{v.Joined()}, nil
}

func biSet(ev *Evaluator, pc *ParserContext, args []string) ([]string, error) {
	if len(args) != 3 {
		return nil, xerrors.Errorf("set: expected exactly two arguments (name, value), got %d", len(args)-1)
	}
	pos := ev.cur.Pos()
	if err := pc.Scope().Set(args[1], args[2], pos.File, pos.Line); err != nil {
		return nil, err
	}
	return nil, nil
}

func biSetA(ev *Evaluator, pc *ParserContext, args []string) ([]string, error) {
	if len(args) < 2 {
		return nil, xerrors.Errorf("seta: expected a name and zero or more values, got %d", len(args)-1)
	}
	pos := ev.cur.Pos()
	if err := pc.Scope().SetAll(args[1], append([]string(nil), args[2:]...), pos.File, pos.Line); err != nil {
		return nil, err
	}
	return nil, nil
}

func biPrint(ev *Evaluator, pc *ParserContext, args []string) ([]string, error) {
	ev.log.Println(strings.Join(args[1:], " "))
	return nil, nil
}

func biInclude(ev *Evaluator, pc *ParserContext, args []string) ([]string, error) {
	if len(args) != 2 {
		return nil, xerrors.Errorf("include: expected exactly one argument (path), got %d", len(args)-1)
	}
	pwdVal, ok := pc.Scope().Lookup(".PWD")
	if !ok || pwdVal.First() == "" || !filepath.IsAbs(pwdVal.First()) {
		return nil, bug("include requires .PWD to hold an absolute directory")
	}
	pwd := pwdVal.First()
	target := args[1]
	if !filepath.IsAbs(target) {
		target = filepath.Join(pwd, target)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return nil, xerrors.Errorf("include %q: %w", target, err)
	}

	savedPWD, _ := pc.Scope().Lookup(".PWD")
	savedFile, _ := pc.Scope().Lookup(".FILE")
	savedLine, _ := pc.Scope().Lookup(".LINE")
	savedCol, _ := pc.Scope().Lookup(".COL")
	defer func() {
		pc.Scope().SetReserved(".PWD", savedPWD.First())
		pc.Scope().SetReserved(".FILE", savedFile.First())
		pc.Scope().SetReserved(".LINE", savedLine.First())
		pc.Scope().SetReserved(".COL", savedCol.First())
	}()
	pc.Scope().SetReserved(".PWD", filepath.Dir(target))
	pc.Scope().SetReserved(".FILE", target)
	pc.Scope().SetReserved(".LINE", "1")
	pc.Scope().SetReserved(".COL", "1")

	if err := ev.evalNestedProgram(pc, target, data); err != nil {
		return nil, err
	}
	return nil, nil
}

func biStrlen(ev *Evaluator, pc *ParserContext, args []string) ([]string, error) {
	if len(args) != 2 {
		return nil, xerrors.Errorf("strlen: expected exactly one argument, got %d", len(args)-1)
	}
	return []string{strconv.Itoa(len(args[1]))}, nil
}

func biCat(ev *Evaluator, pc *ParserContext, args []string) ([]string, error) {
	if len(args) < 2 {
		return nil, xerrors.Errorf("cat: expected at least one argument, got %d", len(args)-1)
	}
	return []string{joinArgs(args[1:])}, nil
}

func biShellSplit(ev *Evaluator, pc *ParserContext, args []string) ([]string, error) {
	if len(args) != 2 {
		return nil, xerrors.Errorf("shell-split: expected exactly one argument, got %d", len(args)-1)
	}
	return strings.Fields(args[1]), nil
}

func biNot(ev *Evaluator, pc *ParserContext, args []string) ([]string, error) {
	if len(args) != 2 {
		return nil, xerrors.Errorf("not: expected exactly one argument, got %d", len(args)-1)
	}
	if Truthy(args[1:]) {
		return []string{}, nil
	}
	return []string{"t"}, nil
}

func biAnd(ev *Evaluator, pc *ParserContext, args []string) ([]string, error) {
	if len(args) < 3 {
		return nil, xerrors.Errorf("and: expected at least two arguments, got %d", len(args)-1)
	}
	for _, a := range args[1:] {
		if a == "" {
			return []string{}, nil
		}
	}
	return []string{"t"}, nil
}

func biOr(ev *Evaluator, pc *ParserContext, args []string) ([]string, error) {
	if len(args) < 3 {
		return nil, xerrors.Errorf("or: expected at least two arguments, got %d", len(args)-1)
	}
	for _, a := range args[1:] {
		if a != "" {
			return []string{"t"}, nil
		}
	}
	return []string{}, nil
}

func biTouchNode(ev *Evaluator, pc *ParserContext, args []string) ([]string, error) {
	if len(args) < 2 {
		return nil, xerrors.Errorf("touch-node: expected at least one argument (output, then 0+ inputs), got %d", len(args)-1)
	}
	pwdVal, ok := pc.Scope().Lookup(".PWD")
	if !ok || pwdVal.First() == "" || !filepath.IsAbs(pwdVal.First()) {
		return nil, bug("touch-node requires .PWD to hold an absolute directory")
	}
	pwd := pwdVal.First()
	output := resolvePath(pwd, args[1])
	inputs := make([]string, 0, len(args)-2)
	for _, in := range args[2:] {
		inputs = append(inputs, resolvePath(pwd, in))
	}
	n := graph.New(output, inputs, []string{output}, scheduler.NewTouchNodeAction(ev.alwaysMake))
	if err := ev.nodes.AddNode(n); err != nil {
		return nil, err
	}
	return nil, nil
}

// biRunNode implements run-node: output-name, program, 0+ program args, then
// a literal "--inputs" separator followed by 0+ input names, mirroring the
// two-list shape of touch-node. Without the separator, every argument after
// the program is a program argument and the node has no inputs.
func biRunNode(ev *Evaluator, pc *ParserContext, args []string) ([]string, error) {
	if len(args) < 3 {
		return nil, xerrors.Errorf("run-node: expected at least two arguments (output, program), got %d", len(args)-1)
	}
	pwdVal, ok := pc.Scope().Lookup(".PWD")
	if !ok || pwdVal.First() == "" || !filepath.IsAbs(pwdVal.First()) {
		return nil, bug("run-node requires .PWD to hold an absolute directory")
	}
	pwd := pwdVal.First()
	output := resolvePath(pwd, args[1])
	program := args[2]

	rest := args[3:]
	sep := -1
	for i, a := range rest {
		if a == "--inputs" {
			sep = i
			break
		}
	}
	var progArgs, inputNames []string
	if sep >= 0 {
		progArgs = rest[:sep]
		inputNames = rest[sep+1:]
	} else {
		progArgs = rest
	}
	inputs := make([]string, 0, len(inputNames))
	for _, in := range inputNames {
		inputs = append(inputs, resolvePath(pwd, in))
	}

	n := graph.New(output, inputs, []string{output}, scheduler.NewRunNodeAction(pwd, program, progArgs, inputs, ev.alwaysMake))
	if err := ev.nodes.AddNode(n); err != nil {
		return nil, err
	}
	return nil, nil
}

func resolvePath(pwd, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(pwd, p)
}
