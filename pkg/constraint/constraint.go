package constraint

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/covey-run/covey/pkg/types"
)

const (
	eq = iota
	noteq
)

// alphaNumeric matches a constraint key: it must start with a letter or
// underscore and may contain dots but no other punctuation.
var alphaNumeric = regexp.MustCompile(`^(?i)[a-z_][a-z0-9\-_.]*$`)

// Expr is a single parsed placement constraint such as "role==worker"
// or "node.labels.region!=east".
type Expr struct {
	Key      string
	operator int
	exp      string
}

// Parse converts constraint strings into expressions. The accepted
// operators are "==" and "!=", with "=" treated as "==". Leading and
// trailing whitespace around key and value is ignored.
func Parse(env []string) ([]Expr, error) {
	exprs := []Expr{}
	for _, e := range env {
		expr, err := parseOne(e)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, expr)
	}
	return exprs, nil
}

func parseOne(e string) (Expr, error) {
	var op int
	var parts []string

	switch {
	case strings.Contains(e, "=="):
		op = eq
		parts = strings.SplitN(e, "==", 2)
	case strings.Contains(e, "!="):
		op = noteq
		parts = strings.SplitN(e, "!=", 2)
	case strings.Contains(e, "="):
		op = eq
		parts = strings.SplitN(e, "=", 2)
	default:
		return Expr{}, fmt.Errorf("constraint %q: expected <key> == <value> or <key> != <value>", e)
	}

	key := strings.TrimSpace(parts[0])
	value := strings.TrimSpace(parts[1])

	if key == "" || !alphaNumeric.MatchString(key) {
		return Expr{}, fmt.Errorf("constraint %q: invalid key", e)
	}
	if value == "" {
		return Expr{}, fmt.Errorf("constraint %q: value cannot be empty", e)
	}

	return Expr{Key: key, operator: op, exp: value}, nil
}

// Match checks the expression against a value.
func (e Expr) Match(value string) bool {
	if e.operator == eq {
		return value == e.exp
	}
	return value != e.exp
}

// MatchNode evaluates the expression against one node. The keys
// "node.id", "node.hostname" and "node.role" (with or without the
// "node." prefix) address node identity; every other key is looked up
// in the node's label set, optionally prefixed "node.labels.". A node
// without the label is matched against the empty string, so "!="
// passes and "==" fails.
func (e Expr) MatchNode(n *types.Node) bool {
	switch strings.TrimPrefix(e.Key, "node.") {
	case "id":
		return e.Match(n.ID)
	case "hostname":
		return e.Match(n.Hostname)
	case "role":
		return e.Match(string(n.Role))
	}

	key := strings.TrimPrefix(e.Key, "node.labels.")
	return e.Match(n.Labels[key])
}

// NodeMatches reports whether the node satisfies every expression.
func NodeMatches(exprs []Expr, n *types.Node) bool {
	for _, e := range exprs {
		if !e.MatchNode(n) {
			return false
		}
	}
	return true
}
