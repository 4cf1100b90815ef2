package dossier

import (
	"errors"
	"reflect"
	"testing"

	"github.com/user/projectdesk/internal/template"
)

const testTemplate = `
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
notes:
  value: ""
`

func newTestDossier(t *testing.T) *Dossier {
	t.Helper()
	tpl, err := template.Parse([]byte(testTemplate))
	if err != nil {
		t.Fatalf("parse template: %v", err)
	}
	d, err := Instantiate(tpl, "atlas")
	if err != nil {
		t.Fatalf("Instantiate() error = %v", err)
	}
	return d
}

func testTemplateParsed(t *testing.T) *template.Template {
	t.Helper()
	tpl, err := template.Parse([]byte(testTemplate))
	if err != nil {
		t.Fatalf("parse template: %v", err)
	}
	return tpl
}

func TestInstantiateRequiresName(t *testing.T) {
	tpl := testTemplateParsed(t)
	if _, err := Instantiate(tpl, "  "); !errors.Is(err, ErrValidation) {
		t.Fatalf("Instantiate() error = %v, want ErrValidation", err)
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	d := newTestDossier(t)

	if err := d.Set("project.goal", "ship the mapper"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := d.Get("project.goal")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "ship the mapper" {
		t.Errorf("Get() = %v", got)
	}
}

func TestSetAcceptsUndeclaredPath(t *testing.T) {
	d := newTestDossier(t)

	if err := d.Set("version_control.remote_url", "git@example.com:atlas.git"); err != nil {
		t.Fatalf("Set() on undeclared path error = %v", err)
	}
	got, err := d.Get("version_control.remote_url")
	if err != nil {
		t.Fatalf("Get() after Set error = %v", err)
	}
	if got != "git@example.com:atlas.git" {
		t.Errorf("Get() = %v", got)
	}
}

func TestGetUnknownPath(t *testing.T) {
	d := newTestDossier(t)

	_, err := d.Get("stack.missing")
	if !errors.Is(err, ErrUnknownPath) {
		t.Fatalf("Get() error = %v, want ErrUnknownPath", err)
	}
	// Traversing through a scalar also fails as unknown.
	_, err = d.Get("notes.deeper")
	if !errors.Is(err, ErrUnknownPath) {
		t.Fatalf("Get() through leaf error = %v, want ErrUnknownPath", err)
	}
}

func TestPathValidation(t *testing.T) {
	d := newTestDossier(t)

	for _, path := range []string{"a..b", ".a", "a."} {
		if err := d.Set(path, "x"); !errors.Is(err, ErrValidation) {
			t.Errorf("Set(%q) error = %v, want ErrValidation", path, err)
		}
		if _, err := d.Get(path); !errors.Is(err, ErrValidation) {
			t.Errorf("Get(%q) error = %v, want ErrValidation", path, err)
		}
	}
}

func TestClearLeaf(t *testing.T) {
	d := newTestDossier(t)

	if err := d.Set("project.goal", "ship it"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := d.Clear("project.goal"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	got, err := d.Get("project.goal")
	if err != nil {
		t.Fatalf("Get() after Clear error = %v", err)
	}
	if got != nil {
		t.Errorf("cleared leaf = %v, want nil", got)
	}
}

func TestClearListBecomesEmptySlice(t *testing.T) {
	d := newTestDossier(t)

	if err := d.Set("stack.languages", []any{"go", "python"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := d.Clear("stack.languages"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	got, err := d.Get("stack.languages")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !reflect.DeepEqual(got, []any{}) {
		t.Errorf("cleared list = %#v, want empty slice", got)
	}
}

func TestClearGroupKeepsShape(t *testing.T) {
	d := newTestDossier(t)

	if err := d.Set("project.name", "atlas"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := d.Set("project.goal", "ship it"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := d.Clear("project"); err != nil {
		t.Fatalf("Clear(project) error = %v", err)
	}

	got, err := d.Get("project")
	if err != nil {
		t.Fatalf("Get(project) error = %v", err)
	}
	branch, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("project is %T, want map", got)
	}
	if len(branch) != 2 {
		t.Errorf("group lost fields: %v", branch)
	}
	if branch["name"] != nil || branch["goal"] != nil {
		t.Errorf("leaves not nulled: %v", branch)
	}
}

func TestClearAllIsIdempotent(t *testing.T) {
	d := newTestDossier(t)

	if err := d.Set("project.goal", "ship it"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := d.Clear(""); err != nil {
		t.Fatalf("Clear(\"\") error = %v", err)
	}
	first, err := d.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	if err := d.Clear(""); err != nil {
		t.Fatalf("second Clear(\"\") error = %v", err)
	}
	second, err := d.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	if string(first) != string(second) {
		t.Errorf("clear is not idempotent: %s vs %s", first, second)
	}
}

func TestClearUnknownPath(t *testing.T) {
	d := newTestDossier(t)
	if err := d.Clear("stack.missing"); !errors.Is(err, ErrUnknownPath) {
		t.Fatalf("Clear() error = %v, want ErrUnknownPath", err)
	}
}

func TestGetReturnsCopies(t *testing.T) {
	d := newTestDossier(t)

	got, err := d.Get("project")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	got.(map[string]any)["name"] = "mutated"

	again, err := d.Get("project.name")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if again == "mutated" {
		t.Error("Get() leaked internal state")
	}
}

func TestUnansweredShrinksAsAnswered(t *testing.T) {
	tpl := testTemplateParsed(t)
	d, err := Instantiate(tpl, "atlas")
	if err != nil {
		t.Fatalf("Instantiate() error = %v", err)
	}

	pending := d.Unanswered(tpl)
	if len(pending) != 2 {
		t.Fatalf("got %d unanswered, want 2", len(pending))
	}
	if pending[0].Path != "project.goal" {
		t.Errorf("first pending path = %q", pending[0].Path)
	}

	if err := d.Set("project.goal", "ship the mapper"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	pending = d.Unanswered(tpl)
	if len(pending) != 1 || pending[0].Path != "stack.languages" {
		t.Fatalf("unexpected pending set: %v", pending)
	}

	if err := d.Set("stack.languages", []any{"go"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if pending = d.Unanswered(tpl); len(pending) != 0 {
		t.Fatalf("expected no pending questions, got %v", pending)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	d := newTestDossier(t)
	if err := d.Set("project.name", "atlas"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	data, err := d.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	restored, err := FromJSON("atlas", data)
	if err != nil {
		t.Fatalf("FromJSON() error = %v", err)
	}
	got, err := restored.Get("project.name")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "atlas" {
		t.Errorf("restored name = %v", got)
	}
}
