package table

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ajitpratap0/ipactable/pkg/errors"
)

// Condition is a parsed filter expression of the form `column OP value`.
// Supported operators are > < = != >= <= IN and LIKE. Values are compared
// numerically when both sides are numbers and case-insensitively otherwise.
// A condition on ROW_IDX against a table without that column compares the
// row index.
type Condition struct {
	Column string
	Op     string
	Value  string

	values []string
	like   *regexp.Regexp
}

var conditionRE = regexp.MustCompile(`^\s*([^\s<>=!]+)\s*(>=|<=|!=|=|>|<|(?i:in)\b|(?i:like)\b)\s*(.*?)\s*$`)

// ParseCondition parses an expression such as "ra > 10", "flag = 1",
// "ROW_IDX IN (2, 5, 9)" or "name LIKE m%".
func ParseCondition(expr string) (*Condition, error) {
	m := conditionRE.FindStringSubmatch(expr)
	if m == nil || m[3] == "" {
		return nil, errors.Newf(errors.ErrorTypeValidation, "invalid filter condition %q", expr)
	}
	c := &Condition{Column: m[1], Op: strings.ToUpper(m[2]), Value: unquote(m[3])}
	switch c.Op {
	case "IN":
		list := strings.TrimSpace(m[3])
		list = strings.TrimSuffix(strings.TrimPrefix(list, "("), ")")
		for _, v := range strings.Split(list, ",") {
			if v = unquote(v); v != "" {
				c.values = append(c.values, v)
			}
		}
		if len(c.values) == 0 {
			return nil, errors.Newf(errors.ErrorTypeValidation, "empty IN list in %q", expr)
		}
	case "LIKE":
		re, err := likePattern(c.Value)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid LIKE pattern")
		}
		c.like = re
	}
	return c, nil
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// likePattern turns % and _ wildcards into a regexp. A pattern without
// wildcards matches any value containing it.
func likePattern(p string) (*regexp.Regexp, error) {
	if !strings.ContainsAny(p, "%_") {
		return regexp.Compile("(?i)" + regexp.QuoteMeta(p))
	}
	var b strings.Builder
	b.WriteString("(?is)^")
	for _, r := range p {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// String returns the normalized expression.
func (c *Condition) String() string {
	if c.Op == "IN" {
		return fmt.Sprintf("%s IN (%s)", c.Column, strings.Join(c.values, ","))
	}
	return fmt.Sprintf("%s %s %s", c.Column, c.Op, c.Value)
}

// Match reports whether row satisfies the condition.
func (c *Condition) Match(row Row, index int) bool {
	v, ok := row.Get(c.Column)
	if !ok {
		if c.Column != RowIDColumn {
			return false
		}
		v = int64(index)
	}
	cell := DefaultNullString
	if v != nil {
		cell = toString(v)
	}
	switch c.Op {
	case "IN":
		for _, want := range c.values {
			if compare(cell, want) == 0 {
				return true
			}
		}
		return false
	case "LIKE":
		return c.like.MatchString(cell)
	}
	r := compare(cell, c.Value)
	switch c.Op {
	case "=":
		return r == 0
	case "!=":
		return r != 0
	case ">":
		return r > 0
	case "<":
		return r < 0
	case ">=":
		return r >= 0
	case "<=":
		return r <= 0
	}
	return false
}

// Predicate returns the condition as a Predicate.
func (c *Condition) Predicate() Predicate {
	return c.Match
}

func compare(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

// ParseConditions parses every expression and combines them with And.
func ParseConditions(exprs ...string) (Predicate, error) {
	preds := make([]Predicate, 0, len(exprs))
	for _, e := range exprs {
		c, err := ParseCondition(e)
		if err != nil {
			return nil, err
		}
		preds = append(preds, c.Predicate())
	}
	return And(preds...), nil
}

// And matches rows accepted by every predicate. With no predicates it
// matches every row.
func And(preds ...Predicate) Predicate {
	return func(row Row, index int) bool {
		for _, p := range preds {
			if !p(row, index) {
				return false
			}
		}
		return true
	}
}

// Or matches rows accepted by any predicate.
func Or(preds ...Predicate) Predicate {
	return func(row Row, index int) bool {
		for _, p := range preds {
			if p(row, index) {
				return true
			}
		}
		return false
	}
}
