package dossier

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/user/projectdesk/internal/template"
)

var (
	// ErrValidation marks bad input to a dossier operation.
	ErrValidation = errors.New("invalid dossier input")
	// ErrUnknownPath marks a read of a path that was never declared or set.
	ErrUnknownPath = errors.New("unknown dossier path")
)

// Dossier is a concrete, per-project instantiation of a template: a nested
// tree addressed by dotted paths. Writes accept paths outside the original
// template so runtime discoveries can be recorded; reads and clears accept
// existing paths only.
type Dossier struct {
	Project string
	root    map[string]any
}

// Instantiate copies every leaf default (or nil) of the template into a
// fresh tree.
func Instantiate(tpl *template.Template, project string) (*Dossier, error) {
	if strings.TrimSpace(project) == "" {
		return nil, fmt.Errorf("%w: project name is required", ErrValidation)
	}
	if tpl == nil {
		return nil, fmt.Errorf("%w: template is required", ErrValidation)
	}
	return &Dossier{Project: project, root: materialize(tpl.Root)}, nil
}

func materialize(group template.Group) map[string]any {
	tree := make(map[string]any, len(group.Fields))
	for _, field := range group.Fields {
		switch node := field.Node.(type) {
		case template.Group:
			tree[field.Name] = materialize(node)
		case template.Leaf:
			tree[field.Name] = cloneValue(node.Default)
		}
	}
	return tree
}

// Get returns the value at path, or the whole tree for an empty path.
func (d *Dossier) Get(path string) (any, error) {
	if strings.TrimSpace(path) == "" {
		return cloneValue(d.root), nil
	}
	segments, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	current := any(d.root)
	for i, segment := range segments {
		branch, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPath, strings.Join(segments[:i+1], "."))
		}
		current, ok = branch[segment]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPath, strings.Join(segments[:i+1], "."))
		}
	}
	return cloneValue(current), nil
}

// Set writes value at path, creating intermediate groups on demand. It only
// fails on a syntactically invalid path, never on one absent from the
// template.
func (d *Dossier) Set(path string, value any) error {
	segments, err := splitPath(path)
	if err != nil {
		return err
	}
	branch := d.root
	for _, segment := range segments[:len(segments)-1] {
		child, ok := branch[segment].(map[string]any)
		if !ok {
			child = make(map[string]any)
			branch[segment] = child
		}
		branch = child
	}
	branch[segments[len(segments)-1]] = cloneValue(value)
	return nil
}

// Clear resets path to empty. Without a path the whole tree keeps its shape
// and every leaf becomes nil; a group path nulls all leaves under it; a leaf
// path becomes nil, or an empty slice when it held one.
func (d *Dossier) Clear(path string) error {
	if strings.TrimSpace(path) == "" {
		clearTree(d.root)
		return nil
	}
	segments, err := splitPath(path)
	if err != nil {
		return err
	}
	branch := d.root
	for i, segment := range segments[:len(segments)-1] {
		child, ok := branch[segment].(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownPath, strings.Join(segments[:i+1], "."))
		}
		branch = child
	}
	last := segments[len(segments)-1]
	value, ok := branch[last]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPath, path)
	}
	switch v := value.(type) {
	case map[string]any:
		clearTree(v)
	case []any:
		branch[last] = []any{}
	default:
		branch[last] = nil
	}
	return nil
}

func clearTree(tree map[string]any) {
	for name, value := range tree {
		switch v := value.(type) {
		case map[string]any:
			clearTree(v)
		case []any:
			tree[name] = []any{}
		default:
			tree[name] = nil
		}
	}
}

// IsValidPath is the non-throwing probe form of Get.
func (d *Dossier) IsValidPath(path string) bool {
	_, err := d.Get(path)
	return err == nil
}

// Unanswered returns the template questions whose dossier value is still
// empty, preserving template order. It drives one-question-per-turn
// onboarding.
func (d *Dossier) Unanswered(tpl *template.Template) []template.Question {
	var out []template.Question
	for _, q := range tpl.Questions() {
		value, err := d.Get(q.Path)
		if err != nil || isEmptyValue(value) {
			out = append(out, q)
		}
	}
	return out
}

func isEmptyValue(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	default:
		return false
	}
}

// MarshalJSON serializes the whole tree; the store persists it per project.
func (d *Dossier) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.root)
}

// FromJSON rebuilds a dossier from a persisted tree.
func FromJSON(project string, data []byte) (*Dossier, error) {
	if strings.TrimSpace(project) == "" {
		return nil, fmt.Errorf("%w: project name is required", ErrValidation)
	}
	root := make(map[string]any)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &root); err != nil {
			return nil, fmt.Errorf("parse dossier for %q: %w", project, err)
		}
	}
	return &Dossier{Project: project, root: root}, nil
}

func splitPath(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: empty path", ErrValidation)
	}
	segments := strings.Split(path, ".")
	for _, segment := range segments {
		if strings.TrimSpace(segment) == "" {
			return nil, fmt.Errorf("%w: empty segment in path %q", ErrValidation, path)
		}
	}
	return segments, nil
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for name, child := range v {
			out[name] = cloneValue(child)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = cloneValue(child)
		}
		return out
	default:
		return v
	}
}
