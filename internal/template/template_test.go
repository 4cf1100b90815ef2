package template

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
project:
  name:
    value: ""
  goal:
    value: ""
    question: "What is the main goal?"
stack:
  languages:
    value: []
    question: "Which languages are used?"
  frameworks:
    value: []
notes:
  value: ""
`

func TestParseBuildsTree(t *testing.T) {
	tpl, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if len(tpl.Root.Fields) != 3 {
		t.Fatalf("got %d top-level fields, want 3", len(tpl.Root.Fields))
	}
	if tpl.Root.Fields[0].Name != "project" || tpl.Root.Fields[1].Name != "stack" {
		t.Errorf("field order not preserved: %q, %q", tpl.Root.Fields[0].Name, tpl.Root.Fields[1].Name)
	}

	node, ok := tpl.Lookup("project.goal")
	if !ok {
		t.Fatal("Lookup(project.goal) not found")
	}
	leaf, ok := node.(Leaf)
	if !ok {
		t.Fatalf("project.goal is %T, want Leaf", node)
	}
	if leaf.Question != "What is the main goal?" {
		t.Errorf("question = %q", leaf.Question)
	}
}

func TestParseBareScalarIsLeaf(t *testing.T) {
	tpl, err := Parse([]byte("name: demo\ncount: 3\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	node, ok := tpl.Lookup("count")
	if !ok {
		t.Fatal("Lookup(count) not found")
	}
	leaf, ok := node.(Leaf)
	if !ok {
		t.Fatalf("count is %T, want Leaf", node)
	}
	if leaf.Default != 3 {
		t.Errorf("default = %v, want 3", leaf.Default)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty document", ""},
		{"top-level sequence", "- a\n- b\n"},
		{"dotted field name", "a.b:\n  value: 1\n"},
		{"duplicate field", "a:\n  value: 1\na:\n  value: 2\n"},
		{"leaf without value or question", "a:\n  question: \"\"\n"},
		{"non-string question", "a:\n  value: 1\n  question: [x]\n"},
		{"not yaml", ":::{{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.in))
			if !errors.Is(err, ErrSchema) {
				t.Fatalf("Parse() error = %v, want ErrSchema", err)
			}
		})
	}
}

func TestQuestionsDeclarationOrder(t *testing.T) {
	tpl, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	questions := tpl.Questions()
	if len(questions) != 2 {
		t.Fatalf("got %d questions, want 2", len(questions))
	}
	if questions[0].Path != "project.goal" {
		t.Errorf("first question path = %q, want project.goal", questions[0].Path)
	}
	if questions[1].Path != "stack.languages" {
		t.Errorf("second question path = %q, want stack.languages", questions[1].Path)
	}
}

func TestLookup(t *testing.T) {
	tpl, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if _, ok := tpl.Lookup(""); !ok {
		t.Error("Lookup(\"\") should return the root group")
	}
	if _, ok := tpl.Lookup("stack"); !ok {
		t.Error("Lookup(stack) should find the group")
	}
	if _, ok := tpl.Lookup("stack.missing"); ok {
		t.Error("Lookup(stack.missing) should not resolve")
	}
	if _, ok := tpl.Lookup("notes.value"); ok {
		t.Error("Lookup through a leaf should not resolve")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "template.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatalf("write template: %v", err)
	}

	tpl, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(tpl.Questions()) != 2 {
		t.Errorf("got %d questions, want 2", len(tpl.Questions()))
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of missing file should fail")
	}
}
