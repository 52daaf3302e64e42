package templates

import (
	"strings"
	"unicode"
)

type node interface{}

type textNode string

type filter struct {
	name string
	arg  string
}

type varNode struct {
	name    string
	filters []filter
}

func (v varNode) eval(vars Variables) string {
	value, ok := vars[v.name]
	for _, f := range v.filters {
		switch f.name {
		case "default":
			if !ok || value == "" {
				value = f.arg
				ok = true
			}
		case "upper":
			value = strings.ToUpper(value)
		case "lower":
			value = strings.ToLower(value)
		case "trim":
			value = strings.TrimSpace(value)
		}
	}
	return value
}

type ifNode struct {
	name      string
	negate    bool
	then      []node
	otherwise []node
}

var knownFilters = map[string]bool{
	"default": true,
	"safe":    true,
	"upper":   true,
	"lower":   true,
	"trim":    true,
}

// frame is an open {% if %} block while parsing.
type frame struct {
	line     int
	node     ifNode
	inElse   bool
	parent   *[]node
	children []node
}

func parse(text string) ([]node, error) {
	var root []node
	var stack []*frame
	current := &root
	line := 1
	rest := text

	appendNode := func(n node) {
		*current = append(*current, n)
	}

	for rest != "" {
		idx := indexOpen(rest)
		if idx < 0 {
			appendNode(textNode(rest))
			break
		}
		if idx > 0 {
			appendNode(textNode(rest[:idx]))
			line += strings.Count(rest[:idx], "\n")
			rest = rest[idx:]
		}

		open := rest[:2]
		closeDelim := closing(open)
		end := strings.Index(rest[2:], closeDelim)
		if end < 0 {
			return nil, &SyntaxError{Line: line, Msg: "unclosed " + open}
		}
		inner := rest[2 : 2+end]
		startLine := line
		line += strings.Count(rest[:2+end+2], "\n")
		rest = rest[2+end+2:]

		switch open {
		case "{#":
			continue
		case "{{":
			v, err := parseExpr(inner, startLine)
			if err != nil {
				return nil, err
			}
			appendNode(v)
		case "{%":
			fields := strings.Fields(inner)
			if len(fields) == 0 {
				return nil, &SyntaxError{Line: startLine, Msg: "empty block tag"}
			}
			switch fields[0] {
			case "if":
				args := fields[1:]
				negate := false
				if len(args) > 0 && args[0] == "not" {
					negate = true
					args = args[1:]
				}
				if len(args) != 1 || !isIdent(args[0]) {
					return nil, &SyntaxError{Line: startLine, Msg: "if expects a single placeholder name"}
				}
				f := &frame{line: startLine, node: ifNode{name: args[0], negate: negate}, parent: current}
				stack = append(stack, f)
				current = &f.children
			case "else":
				if len(fields) != 1 {
					return nil, &SyntaxError{Line: startLine, Msg: "else takes no arguments"}
				}
				if len(stack) == 0 {
					return nil, &SyntaxError{Line: startLine, Msg: "else outside of if"}
				}
				top := stack[len(stack)-1]
				if top.inElse {
					return nil, &SyntaxError{Line: startLine, Msg: "duplicate else"}
				}
				top.node.then = top.children
				top.children = nil
				top.inElse = true
				current = &top.children
			case "endif":
				if len(fields) != 1 {
					return nil, &SyntaxError{Line: startLine, Msg: "endif takes no arguments"}
				}
				if len(stack) == 0 {
					return nil, &SyntaxError{Line: startLine, Msg: "endif without if"}
				}
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if top.inElse {
					top.node.otherwise = top.children
				} else {
					top.node.then = top.children
				}
				current = top.parent
				appendNode(top.node)
			default:
				return nil, &SyntaxError{Line: startLine, Msg: "unknown block tag " + fields[0]}
			}
		}
	}

	if len(stack) > 0 {
		return nil, &SyntaxError{Line: stack[len(stack)-1].line, Msg: "if block is never closed"}
	}
	return root, nil
}

func closing(open string) string {
	switch open {
	case "{{":
		return "}}"
	case "{%":
		return "%}"
	}
	return "#}"
}

func indexOpen(s string) int {
	for i := 0; i+1 < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		switch s[i+1] {
		case '{', '%', '#':
			return i
		}
	}
	return -1
}

func parseExpr(inner string, line int) (varNode, error) {
	parts := splitFilters(inner)
	name := strings.TrimSpace(parts[0])
	if name == "" {
		return varNode{}, &SyntaxError{Line: line, Msg: "empty placeholder"}
	}
	if !isIdent(name) {
		return varNode{}, &SyntaxError{Line: line, Msg: "invalid placeholder name " + name}
	}
	v := varNode{name: name}
	for _, raw := range parts[1:] {
		f, err := parseFilter(strings.TrimSpace(raw), line)
		if err != nil {
			return varNode{}, err
		}
		v.filters = append(v.filters, f)
	}
	return v, nil
}

// splitFilters splits on '|' outside of quoted strings.
func splitFilters(s string) []string {
	var parts []string
	var quote rune
	start := 0
	for i, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '|':
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

func parseFilter(raw string, line int) (filter, error) {
	if raw == "" {
		return filter{}, &SyntaxError{Line: line, Msg: "empty filter"}
	}
	name, args, hasArgs := strings.Cut(raw, "(")
	name = strings.TrimSpace(name)
	if !knownFilters[name] {
		return filter{}, &SyntaxError{Line: line, Msg: "unknown filter " + name}
	}
	if !hasArgs {
		return filter{name: name}, nil
	}
	if name != "default" {
		return filter{}, &SyntaxError{Line: line, Msg: name + " takes no arguments"}
	}
	args = strings.TrimSpace(args)
	if !strings.HasSuffix(args, ")") {
		return filter{}, &SyntaxError{Line: line, Msg: "unclosed filter arguments"}
	}
	literal := strings.TrimSpace(strings.TrimSuffix(args, ")"))
	if literal == "" {
		return filter{name: name}, nil
	}
	if len(literal) < 2 || (literal[0] != '\'' && literal[0] != '"') || literal[len(literal)-1] != literal[0] {
		return filter{}, &SyntaxError{Line: line, Msg: "default expects a quoted string"}
	}
	return filter{name: name, arg: literal[1 : len(literal)-1]}, nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}
