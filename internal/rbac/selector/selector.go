// Package selector implements the small boolean algebra used to decide which
// catalog permissions belong to a role template.
//
// A Selector is an immutable value. Evaluation never panics: a malformed
// selector (zero value, missing operand, empty argument) matches nothing, and
// Validate reports why it is malformed.
package selector

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the variant of a Selector.
type Kind uint8

const (
	kindInvalid Kind = iota
	KindAll
	KindModule
	KindSuffix
	KindName
	KindNot
	KindAnd
	KindOr
)

func (k Kind) String() string {
	switch k {
	case KindAll:
		return "all"
	case KindModule:
		return "module"
	case KindSuffix:
		return "suffix"
	case KindName:
		return "name"
	case KindNot:
		return "not"
	case KindAnd:
		return "and"
	case KindOr:
		return "or"
	default:
		return "invalid"
	}
}

// ErrMalformed is wrapped by every Validate failure.
var ErrMalformed = errors.New("selector: malformed")

// Input is the part of a permission a selector can see.
type Input struct {
	Name   string
	Module string
}

// Selector is a boolean expression over an Input.
type Selector struct {
	kind     Kind
	arg      string
	children []Selector
}

// All matches every permission.
func All() Selector { return Selector{kind: KindAll} }

// ByModule matches permissions owned by module.
func ByModule(module string) Selector { return Selector{kind: KindModule, arg: module} }

// BySuffix matches permissions whose name ends with suffix.
func BySuffix(suffix string) Selector { return Selector{kind: KindSuffix, arg: suffix} }

// ByName matches the permission with exactly this name.
func ByName(name string) Selector { return Selector{kind: KindName, arg: name} }

// Not negates s.
func Not(s Selector) Selector { return Selector{kind: KindNot, children: []Selector{s}} }

// And matches when every operand matches.
func And(operands ...Selector) Selector {
	return Selector{kind: KindAnd, children: append([]Selector(nil), operands...)}
}

// Or matches when any operand matches.
func Or(operands ...Selector) Selector {
	return Selector{kind: KindOr, children: append([]Selector(nil), operands...)}
}

// Kind returns the variant of s.
func (s Selector) Kind() Kind { return s.kind }

// Arg returns the string argument of a leaf selector.
func (s Selector) Arg() string { return s.arg }

// Operands returns a copy of the operands of a Not/And/Or selector.
func (s Selector) Operands() []Selector { return append([]Selector(nil), s.children...) }

// Match evaluates s against in.
func (s Selector) Match(in Input) bool {
	switch s.kind {
	case KindAll:
		return true
	case KindModule:
		return s.arg != "" && in.Module == s.arg
	case KindSuffix:
		return s.arg != "" && strings.HasSuffix(in.Name, s.arg)
	case KindName:
		return s.arg != "" && in.Name == s.arg
	case KindNot:
		if len(s.children) != 1 || s.children[0].Validate() != nil {
			return false
		}
		return !s.children[0].Match(in)
	case KindAnd:
		if len(s.children) == 0 {
			return false
		}
		for _, c := range s.children {
			if !c.Match(in) {
				return false
			}
		}
		return true
	case KindOr:
		for _, c := range s.children {
			if c.Match(in) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Validate reports whether s is well formed.
func (s Selector) Validate() error {
	switch s.kind {
	case KindAll:
		return nil
	case KindModule, KindSuffix, KindName:
		if strings.TrimSpace(s.arg) == "" {
			return fmt.Errorf("%w: %s requires an argument", ErrMalformed, s.kind)
		}
		return nil
	case KindNot:
		if len(s.children) != 1 {
			return fmt.Errorf("%w: not takes exactly one operand, got %d", ErrMalformed, len(s.children))
		}
		return s.children[0].Validate()
	case KindAnd, KindOr:
		if len(s.children) == 0 {
			return fmt.Errorf("%w: %s requires at least one operand", ErrMalformed, s.kind)
		}
		for i, c := range s.children {
			if err := c.Validate(); err != nil {
				return fmt.Errorf("%s operand %d: %w", s.kind, i, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrMalformed, s.kind)
	}
}

// String renders s as a readable expression, e.g. and(not(suffix(".delete")),module("billing")).
func (s Selector) String() string {
	var b strings.Builder
	s.write(&b)
	return b.String()
}

func (s Selector) write(b *strings.Builder) {
	b.WriteString(s.kind.String())
	switch s.kind {
	case KindAll:
		b.WriteString("()")
	case KindModule, KindSuffix, KindName:
		b.WriteByte('(')
		b.WriteString(strconv.Quote(s.arg))
		b.WriteByte(')')
	default:
		b.WriteByte('(')
		for i, c := range s.children {
			if i > 0 {
				b.WriteByte(',')
			}
			c.write(b)
		}
		b.WriteByte(')')
	}
}
