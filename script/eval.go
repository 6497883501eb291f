package script

import (
	"io"
	"log"
	"sort"
	"strconv"

	"golang.org/x/xerrors"

	"github.com/mbld/mbld/graph"
)

// NodeSink receives nodes constructed by touch-node/run-node as the script
// evaluates. The root mbld.Context implements this to accumulate the build
// graph; tests can supply a trivial slice-backed implementation.
type NodeSink interface {
	AddNode(n *graph.Node) error
}

// maxNestingDepth bounds recursive descent into nested calls/control
// constructs so a pathological or accidentally-infinite script produces a
// located error instead of a stack overflow.
const maxNestingDepth = 4000

// Evaluator drives a single-threaded pass over one script's source,
// maintaining the frame-stack model via Go's own call stack (each nested
// construct corresponds to one level of recursion) plus the explicit frame
// value threaded through argument accumulation.
//
// An Evaluator is not safe for concurrent use; EvalSiblingsConcurrently
// gives each goroutine its own Evaluator instead of sharing one.
type Evaluator struct {
	cur        *Cursor
	builtins   map[string]*builtin
	log        *log.Logger
	nodes      NodeSink
	depth      int
	alwaysMake bool
}

// NewEvaluator constructs an Evaluator that writes print() output to w and
// registers nodes created by touch-node/run-node into sink. alwaysMake is
// forwarded into every touch-node action it constructs.
func NewEvaluator(w io.Writer, sink NodeSink, alwaysMake bool) *Evaluator {
	return &Evaluator{
		builtins:   registerBuiltins(),
		log:        log.New(w, "", 0),
		nodes:      sink,
		alwaysMake: alwaysMake,
	}
}

// Eval evaluates the top-level text of a script file against pc, which
// should have .PWD/.FILE/.LINE/.COL already seeded by the caller
// (mbld.Context.Run or a test).
func (ev *Evaluator) Eval(pc *ParserContext, file string, src []byte) error {
	ev.cur = NewCursor(file, src)
	_, err := ev.parseStatementSequence(pc, false, nil)
	return err
}

// evalNestedProgram evaluates src in the same scope (pc) but a fresh
// cursor, restoring the calling cursor afterward. Used by the include
// builtin.
func (ev *Evaluator) evalNestedProgram(pc *ParserContext, file string, src []byte) error {
	saved := ev.cur
	ev.cur = NewCursor(file, src)
	defer func() { ev.cur = saved }()
	_, err := ev.parseStatementSequence(pc, false, nil)
	return err
}

func isSpace(ch byte) bool { return ch == ' ' || ch == '\t' || ch == '\n' }

func (ev *Evaluator) skipWhitespaceAndComments() {
	for {
		ch, ok := ev.cur.Peek()
		if !ok {
			return
		}
		if ch == '#' {
			ev.consumeComment()
			continue
		}
		if isSpace(ch) {
			ev.cur.Next()
			continue
		}
		return
	}
}

func (ev *Evaluator) consumeComment() {
	ev.cur.Next() // '#'
	for {
		ch, ok := ev.cur.Peek()
		if !ok || ch == '\n' {
			return
		}
		ev.cur.Next()
	}
}

func (ev *Evaluator) enter(pos SourcePosition) error {
	ev.depth++
	if ev.depth > maxNestingDepth {
		return evalErrorf(pos, "maximum nesting depth (%d) exceeded", maxNestingDepth)
	}
	return nil
}

func (ev *Evaluator) leave() { ev.depth-- }

// parseStatementSequence parses a run of statements — "(...)" function
// calls executed for effect, and "[if]"/"[while]" control constructs — until
// EOF or one of terminators is encountered as the next "[...]" keyword. The
// matched terminator name is returned (empty at EOF with no terminators
// expected).
func (ev *Evaluator) parseStatementSequence(pc *ParserContext, skip bool, terminators map[string]bool) (string, error) {
	if err := ev.enter(ev.cur.Pos()); err != nil {
		return "", err
	}
	defer ev.leave()

	for {
		ev.skipWhitespaceAndComments()
		ch, ok := ev.cur.Peek()
		if !ok {
			if len(terminators) > 0 {
				return "", evalErrorf(ev.cur.Pos(), "unexpected end-of-text; expected one of %v", sortedKeys(terminators))
			}
			return "", nil
		}
		switch ch {
		case '(':
			if _, err := ev.parseFunctionCall(pc, skip); err != nil {
				return "", err
			}
		case '[':
			kwPos := ev.cur.Pos()
			name, err := ev.readControlKeyword()
			if err != nil {
				return "", err
			}
			if terminators[name] {
				return name, nil
			}
			switch name {
			case "if":
				if err := ev.parseIf(pc, skip); err != nil {
					return "", err
				}
			case "while":
				if err := ev.parseWhile(pc, skip); err != nil {
					return "", err
				}
			default:
				return "", evalErrorf(kwPos, "unexpected control keyword %q", name)
			}
		default:
			return "", evalErrorf(ev.cur.Pos(), "unexpected character %q", string(ch))
		}
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// readControlKeyword consumes a "[ident]" token starting at the cursor's
// current '[' and returns ident.
func (ev *Evaluator) readControlKeyword() (string, error) {
	openPos := ev.cur.Pos()
	ev.cur.Next() // '['
	var sb []byte
	for {
		ch, ok := ev.cur.Peek()
		if !ok {
			return "", evalErrorf(openPos, "unexpected end-of-text; expected closing ']' for control keyword opened at line %d, column %d", openPos.Line, openPos.Col)
		}
		if ch == ']' {
			ev.cur.Next()
			break
		}
		if isSpace(ch) || ch == '[' || ch == '(' {
			return "", evalErrorf(openPos, "invalid control keyword starting at line %d, column %d", openPos.Line, openPos.Col)
		}
		ev.cur.Next()
		sb = append(sb, ch)
	}
	return string(sb), nil
}

// parseIf parses an if/elif*/else?/fi chain. "[if]" has already been
// consumed by the caller.
func (ev *Evaluator) parseIf(pc *ParserContext, skip bool) error {
	tryNextBranch := true
	for {
		condSkip := skip || !tryNextBranch
		condArgs, _, err := ev.parseArguments(pc, condSkip, 0, map[string]bool{"then": true})
		if err != nil {
			return err
		}
		condTrue := !condSkip && Truthy(condArgs)
		bodySkip := condSkip || !condTrue

		matched, err := ev.parseStatementSequence(pc, bodySkip, map[string]bool{"elif": true, "else": true, "fi": true})
		if err != nil {
			return err
		}
		if !bodySkip {
			tryNextBranch = false
		}
		switch matched {
		case "fi":
			return nil
		case "else":
			elseSkip := skip || !tryNextBranch
			if _, err := ev.parseStatementSequence(pc, elseSkip, map[string]bool{"fi": true}); err != nil {
				return err
			}
			if !elseSkip {
				tryNextBranch = false
			}
			return nil
		case "elif":
			continue
		}
	}
}

// parseWhile parses a while/do/done construct, re-entering the condition on
// each iteration by rewinding the cursor to the loop-top position. "[while]"
// has already been consumed by the caller.
func (ev *Evaluator) parseWhile(pc *ParserContext, skip bool) error {
	loopTop := ev.cur.Pos()
	for {
		ev.cur.Restore(loopTop)
		condArgs, _, err := ev.parseArguments(pc, skip, 0, map[string]bool{"do": true})
		if err != nil {
			return err
		}
		condTrue := !skip && Truthy(condArgs)
		bodySkip := skip || !condTrue

		if _, err := ev.parseStatementSequence(pc, bodySkip, map[string]bool{"done": true}); err != nil {
			return err
		}
		if skip || !condTrue {
			return nil
		}
	}
}

// parseArguments parses a run of whitespace-separated arguments (bare text,
// quotes, nested calls), stopping at stopChar (if nonzero) or at a "[...]"
// keyword present in stopKeywords. It is used for condition parsing
// (stopChar==0, stopKeywords={"then"} or {"do"}) and for a whole region's
// argument stream (EvalSiblingsConcurrently); parseFunctionCall parses a
// call's own argument list with its own loop.
func (ev *Evaluator) parseArguments(pc *ParserContext, skip bool, stopChar byte, stopKeywords map[string]bool) ([]string, string, error) {
	fr := newFrame()
	for {
		ev.skipWhitespaceAndComments()
		ch, ok := ev.cur.Peek()
		if !ok {
			if stopChar == 0 && stopKeywords == nil {
				// Whole-text argument stream (EvalSiblingsConcurrently):
				// EOF is the terminator, not an error.
				fr.flushArgument()
				return fr.arguments, "", nil
			}
			return nil, "", evalErrorf(ev.cur.Pos(), "unexpected end-of-text")
		}
		if stopChar != 0 && ch == stopChar {
			ev.cur.Next()
			fr.flushArgument()
			return fr.arguments, "", nil
		}
		if ch == '[' {
			kwPos := ev.cur.Pos()
			name, err := ev.readControlKeyword()
			if err != nil {
				return nil, "", err
			}
			if stopKeywords[name] {
				fr.flushArgument()
				return fr.arguments, name, nil
			}
			return nil, "", evalErrorf(kwPos, "unexpected control keyword %q", name)
		}
		if err := ev.parseArgumentTokens(pc, skip, fr); err != nil {
			return nil, "", err
		}
		fr.flushArgument()
	}
}

// parseArgumentTokens consumes the tokens making up a single argument (bare
// characters, quoted regions, nested call substitutions) until the next
// whitespace, comment, or the enclosing construct's terminator character.
func (ev *Evaluator) parseArgumentTokens(pc *ParserContext, skip bool, fr *frame) error {
	for {
		ch, ok := ev.cur.Peek()
		if !ok {
			return nil
		}
		switch {
		case ch == '(':
			results, err := ev.parseFunctionCall(pc, skip)
			if err != nil {
				return err
			}
			// A "(...)" always occupies its argument position, even when
			// skipped or when it returns no strings, so that builtins
			// dispatching on argument position (if, and, or) never read a
			// shifted index. Only the splice of real results is
			// conditional on skip.
			fr.openArgument()
			if !skip {
				fr.spliceResults(results)
			}
		case ch == '\'':
			s, err := ev.parseSingleQuoted()
			if err != nil {
				return err
			}
			// Literal text has no side effects, so it is collected
			// even in skip mode; only nested calls are suppressed.
			fr.appendText(s)
			fr.openArgument()
		case ch == '"':
			if err := ev.parseDoubleQuoted(pc, skip, fr); err != nil {
				return err
			}
		case ch == '#':
			ev.consumeComment()
			return nil
		case ch == ')':
			return nil
		case isSpace(ch):
			return nil
		default:
			ev.cur.Next()
			fr.appendText(string(ch))
		}
	}
}

func (ev *Evaluator) parseSingleQuoted() (string, error) {
	openPos := ev.cur.Pos()
	ev.cur.Next() // opening '
	var sb []byte
	for {
		ch, ok := ev.cur.Peek()
		if !ok {
			return "", evalErrorf(openPos, "unexpected end-of-text; expected closing ' for quote opened at line %d, column %d", openPos.Line, openPos.Col)
		}
		if ch == '\'' {
			ev.cur.Next()
			return string(sb), nil
		}
		if ch == '\n' {
			return "", evalErrorf(ev.cur.Pos(), "newline not permitted inside quotes (opened at line %d, column %d)", openPos.Line, openPos.Col)
		}
		ev.cur.Next()
		sb = append(sb, ch)
	}
}

// parseDoubleQuoted parses a "..." region directly into fr, recognizing
// nested "(...)" call substitutions and "[...]" control constructs inline.
func (ev *Evaluator) parseDoubleQuoted(pc *ParserContext, skip bool, fr *frame) error {
	openPos := ev.cur.Pos()
	ev.cur.Next() // opening "
	fr.openArgument()
	for {
		ch, ok := ev.cur.Peek()
		if !ok {
			return evalErrorf(openPos, "unexpected end-of-text; expected closing \" for quote opened at line %d, column %d", openPos.Line, openPos.Col)
		}
		if ch == '"' {
			ev.cur.Next()
			return nil
		}
		if ch == '\n' {
			return evalErrorf(ev.cur.Pos(), "newline not permitted inside quotes (opened at line %d, column %d)", openPos.Line, openPos.Col)
		}
		if ch == '(' {
			results, err := ev.parseFunctionCall(pc, skip)
			if err != nil {
				return err
			}
			if !skip {
				fr.spliceResults(results)
			}
			continue
		}
		if ch == '[' {
			kwPos := ev.cur.Pos()
			name, err := ev.readControlKeyword()
			if err != nil {
				return err
			}
			switch name {
			case "if":
				if err := ev.parseIf(pc, skip); err != nil {
					return err
				}
			case "while":
				if err := ev.parseWhile(pc, skip); err != nil {
					return err
				}
			default:
				return evalErrorf(kwPos, "unexpected control keyword %q inside quoted text", name)
			}
			continue
		}
		ev.cur.Next()
		fr.appendText(string(ch))
	}
}

// parseFunctionCall parses "(name arg...)" starting at the opening '('. The
// function name is resolved as soon as its argument completes, after which
// each subsequent argument's skip mode is decided by the builtin's own
// evalNextArgument hook.
func (ev *Evaluator) parseFunctionCall(pc *ParserContext, parentSkip bool) ([]string, error) {
	openPos := ev.cur.Pos()
	if err := ev.enter(openPos); err != nil {
		return nil, err
	}
	defer ev.leave()

	ev.cur.Next() // '('
	if ch, ok := ev.cur.Peek(); ok && ch == '(' {
		return nil, evalErrorf(ev.cur.Pos(), "a function name cannot itself be a call")
	}

	fr := newFrame()
	var bi *builtin
	var name string

	for {
		ev.skipWhitespaceAndComments()
		ch, ok := ev.cur.Peek()
		if !ok {
			return nil, evalErrorf(openPos, "unexpected end-of-text; expected ')' for call opened at line %d, column %d", openPos.Line, openPos.Col)
		}
		if ch == ')' {
			ev.cur.Next()
			fr.flushArgument()
			break
		}
		if ch == '[' {
			return nil, evalErrorf(ev.cur.Pos(), "unexpected control keyword inside function call argument list")
		}

		nextIndex := len(fr.arguments) + 1
		thisSkip := parentSkip
		if bi != nil && nextIndex >= 2 && !bi.alwaysEvalArguments && !parentSkip {
			argsSoFar := append([]string(nil), fr.arguments...)
			thisSkip = !bi.evalNextArgument(argsSoFar)
		}

		if err := ev.parseArgumentTokens(pc, thisSkip, fr); err != nil {
			return nil, err
		}
		fr.flushArgument()

		if nextIndex == 1 {
			name = fr.arguments[0]
			bi = ev.builtins[name]
		}
	}

	if bi == nil {
		return nil, evalErrorf(openPos, "Unknown function >>(%s ...)<<.", name)
	}
	if parentSkip {
		return nil, nil
	}

	pc.Scope().SetReserved(".LINE", strconv.Itoa(openPos.Line))
	pc.Scope().SetReserved(".COL", strconv.Itoa(openPos.Col))

	results, err := bi.handler(ev, pc, fr.arguments)
	if err != nil {
		var ee *EvalError
		if xerrors.As(err, &ee) {
			return nil, err
		}
		var bugErr *Bug
		if xerrors.As(err, &bugErr) {
			bugErr.File = openPos.File
			bugErr.Line = openPos.Line
			return nil, bugErr
		}
		return nil, newEvalError(openPos, err)
	}
	return results, nil
}
