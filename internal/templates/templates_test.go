package templates

import (
	"errors"
	"strings"
	"testing"
)

func TestRenderSubstitutesValues(t *testing.T) {
	vars := Variables{
		"name":        "Alice",
		"company":     "Acme",
		"email":       "alice@acme.test",
		"sender_name": "Bob",
		"subject":     "Hello",
		"message":     "Quarterly update inside.",
	}
	out, err := Render(DefaultPlain, vars)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{"Hello Alice,", "Quarterly update inside.", "Company: Acme", "Bob"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q:\n%s", want, out)
		}
	}
}

func TestRenderDefaultAndConditional(t *testing.T) {
	out, err := Render(DefaultPlain, Variables{"message": "Hi", "sender_name": "Bob"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.HasPrefix(out, "Hello there,") {
		t.Errorf("expected default name, got:\n%s", out)
	}
	if strings.Contains(out, "Company:") {
		t.Errorf("company block should be omitted:\n%s", out)
	}

	out, err = Render("Hi {{ name | default(\"friend\") }}!", Variables{"name": ""})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "Hi friend!" {
		t.Errorf("expected empty value to fall back, got %q", out)
	}
}

func TestRenderElseNotAndNesting(t *testing.T) {
	text := "{% if company %}at {{company}}{% if name %} with {{name|upper}}{% endif %}{% else %}independent{% endif %}" +
		"{% if not email %} (no email){% endif %}{# hidden #}"

	out, err := Render(text, Variables{"company": "Acme", "name": "al"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "at Acme with AL (no email)" {
		t.Errorf("unexpected output %q", out)
	}

	out, err = Render(text, Variables{"email": "x@y.z"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "independent" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestRenderMalformed(t *testing.T) {
	cases := []string{
		"Hello {{name",
		"Hello {{ }}",
		"{% if company %}no end",
		"{% endif %}",
		"{% else %}",
		"{% for x in y %}{% endif %}",
		"{{ name|shout }}",
		"{{ name|default(there) }}",
		"{% if %}x{% endif %}",
		"{{ first name }}",
		"{% if a %}{% else %}{% else %}{% endif %}",
	}
	for _, text := range cases {
		_, err := Render(text, nil)
		var syntaxErr *SyntaxError
		if !errors.As(err, &syntaxErr) {
			t.Errorf("Render(%q) expected SyntaxError, got %v", text, err)
		}
		if Validate(text) {
			t.Errorf("Validate(%q) = true, want false", text)
		}
	}
}

func TestSyntaxErrorLine(t *testing.T) {
	_, err := Render("line one\nline two\n{{ broken", nil)
	var syntaxErr *SyntaxError
	if !errors.As(err, &syntaxErr) {
		t.Fatalf("expected SyntaxError, got %v", err)
	}
	if syntaxErr.Line != 3 {
		t.Errorf("expected line 3, got %d", syntaxErr.Line)
	}
}

func TestDefaultsParse(t *testing.T) {
	for _, kind := range []Kind{Plain, HTML} {
		if !Validate(Default(kind)) {
			t.Errorf("default %s template does not parse", kind)
		}
	}
	out := MustRender(DefaultHTML, Variables{"message": "<p>Body</p>"})
	if !strings.Contains(out, "<title>Email</title>") || !strings.Contains(out, "<p>Body</p>") {
		t.Errorf("unexpected html render:\n%s", out)
	}
}

func TestParseKindAndPlaceholders(t *testing.T) {
	if ParseKind(" HTML ") != HTML || ParseKind("text") != Plain {
		t.Error("unexpected kind parsing")
	}
	if len(Placeholders) != 6 || !IsPlaceholder("sender_name") || IsPlaceholder("first_name") {
		t.Error("unexpected placeholder set")
	}
}
