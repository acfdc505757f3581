// Package filter implements the host blocklist the proxy consults before
// dialing upstream. It is a feature present in the original C
// implementation (proxy/src/proxy.c's Proxy_isFiltered / filters.txt) that
// spec.md's distillation dropped; it is supplemented here per the
// project's "original_source may enrich the spec" rule.
package filter

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"
)

// Rule is one compiled filter entry: either a plain substring (the
// original's strstr(host, filter) behavior) or a CEL boolean expression
// over host/port/path.
type Rule struct {
	raw   string
	cel   cel.Program
	plain string
}

// List is an ordered set of rules; a host is blocked if any rule matches.
type List struct {
	rules []Rule
	env   *cel.Env
}

// New builds an empty List, pre-building the CEL environment used for
// "cel:"-prefixed rules.
func New() (*List, error) {
	env, err := cel.NewEnv(
		cel.Variable("host", cel.StringType),
		cel.Variable("port", cel.StringType),
		cel.Variable("path", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("filter: building CEL environment: %w", err)
	}
	return &List{env: env}, nil
}

// Add compiles and appends one rule line. A line prefixed "cel:" is
// compiled as a CEL boolean expression; anything else is a plain substring
// rule, matching the original implementation's strstr(host, filter).
func (l *List) Add(line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	if rest, ok := strings.CutPrefix(line, "cel:"); ok {
		ast, issues := l.env.Compile(rest)
		if issues != nil && issues.Err() != nil {
			return fmt.Errorf("filter: compiling %q: %w", rest, issues.Err())
		}
		prg, err := l.env.Program(ast)
		if err != nil {
			return fmt.Errorf("filter: building program for %q: %w", rest, err)
		}
		l.rules = append(l.rules, Rule{raw: line, cel: prg})
		return nil
	}
	l.rules = append(l.rules, Rule{raw: line, plain: line})
	return nil
}

// Load reads newline-separated rules from r, one per Add.
func (l *List) Load(r io.Reader) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if err := l.Add(sc.Text()); err != nil {
			return err
		}
	}
	return sc.Err()
}

// Blocks reports whether host (with optional port/path context) matches
// any rule.
func (l *List) Blocks(host, port, path string) bool {
	for _, r := range l.rules {
		if r.plain != "" {
			if strings.Contains(host, r.plain) {
				return true
			}
			continue
		}
		out, _, err := r.cel.Eval(map[string]any{
			"host": host,
			"port": port,
			"path": path,
		})
		if err != nil {
			continue
		}
		if isTrue(out) {
			return true
		}
	}
	return false
}

func isTrue(v ref.Val) bool {
	b, ok := v.Value().(bool)
	return ok && b
}

// Len reports how many rules are loaded.
func (l *List) Len() int {
	return len(l.rules)
}
