// Package templates renders campaign bodies. The syntax is a small closed
// subset: {{ name }}, {{ name|default('there') }}, {{ message|safe }},
// {% if company %}...{% else %}...{% endif %} and {# comments #}.
package templates

import (
	"fmt"
	"strings"
)

type Kind string

const (
	Plain Kind = "plain"
	HTML  Kind = "html"
)

// ParseKind maps user input to a Kind, defaulting to Plain.
func ParseKind(value string) Kind {
	if strings.EqualFold(strings.TrimSpace(value), string(HTML)) {
		return HTML
	}
	return Plain
}

// Variables maps placeholder names to their values.
type Variables map[string]string

// Placeholder describes one of the recognised substitution points.
type Placeholder struct {
	Name string
	Help string
}

var Placeholders = []Placeholder{
	{Name: "name", Help: `Recipient's name (falls back to "there" if not provided)`},
	{Name: "company", Help: "Recipient's company name (optional)"},
	{Name: "email", Help: "Recipient's email address"},
	{Name: "sender_name", Help: "Your name as the sender"},
	{Name: "subject", Help: "Email subject line"},
	{Name: "message", Help: "Main email content"},
}

// IsPlaceholder reports whether name is in the recognised set.
func IsPlaceholder(name string) bool {
	for _, p := range Placeholders {
		if p.Name == name {
			return true
		}
	}
	return false
}

// SyntaxError reports malformed template text.
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("template syntax error on line %d: %s", e.Line, e.Msg)
}

// Render substitutes vars into text.
func Render(text string, vars Variables) (string, error) {
	nodes, err := parse(text)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.Grow(len(text))
	renderNodes(&b, nodes, vars)
	return b.String(), nil
}

// Validate reports whether text parses.
func Validate(text string) bool {
	_, err := parse(text)
	return err == nil
}

// MustRender is Render for templates known to be well formed.
func MustRender(text string, vars Variables) string {
	out, err := Render(text, vars)
	if err != nil {
		panic(err)
	}
	return out
}

func renderNodes(b *strings.Builder, nodes []node, vars Variables) {
	for _, n := range nodes {
		switch n := n.(type) {
		case textNode:
			b.WriteString(string(n))
		case varNode:
			b.WriteString(n.eval(vars))
		case ifNode:
			value := vars[n.name] != ""
			if n.negate {
				value = !value
			}
			if value {
				renderNodes(b, n.then, vars)
			} else {
				renderNodes(b, n.otherwise, vars)
			}
		}
	}
}
