package template

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrSchema marks a malformed template document. It is fatal at load time.
var ErrSchema = errors.New("invalid template schema")

// Load reads and parses a template file.
func Load(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template %q: %w", path, err)
	}
	tpl, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tpl, nil
}

// Parse decodes a YAML group/leaf tree. Field order in the document is
// preserved, which makes question generation deterministic.
func Parse(data []byte) (*Template, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrSchema)
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level must be a mapping", ErrSchema)
	}
	group, err := parseGroup(root, "")
	if err != nil {
		return nil, err
	}
	return &Template{Root: group}, nil
}

func parseGroup(node *yaml.Node, path string) (Group, error) {
	group := Group{Fields: make([]Field, 0, len(node.Content)/2)}
	seen := make(map[string]bool)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		name := keyNode.Value
		if strings.TrimSpace(name) == "" {
			return Group{}, fmt.Errorf("%w: empty field name at %q", ErrSchema, path)
		}
		if strings.Contains(name, ".") {
			return Group{}, fmt.Errorf("%w: field name %q must not contain dots", ErrSchema, name)
		}
		if seen[name] {
			return Group{}, fmt.Errorf("%w: duplicate field %q at %q", ErrSchema, name, path)
		}
		seen[name] = true

		child, err := parseNode(valNode, joinPath(path, name))
		if err != nil {
			return Group{}, err
		}
		group.Fields = append(group.Fields, Field{Name: name, Node: child})
	}
	return group, nil
}

func parseNode(node *yaml.Node, path string) (Node, error) {
	switch node.Kind {
	case yaml.MappingNode:
		if len(node.Content) == 0 {
			return nil, fmt.Errorf("%w: empty node at %q", ErrSchema, path)
		}
		if isLeafMapping(node) {
			return parseLeaf(node, path)
		}
		return parseGroup(node, path)
	case yaml.ScalarNode, yaml.SequenceNode:
		var value any
		if err := node.Decode(&value); err != nil {
			return nil, fmt.Errorf("%w: bad value at %q: %v", ErrSchema, path, err)
		}
		return Leaf{Default: value}, nil
	case yaml.AliasNode:
		return parseNode(node.Alias, path)
	default:
		return nil, fmt.Errorf("%w: unsupported node at %q", ErrSchema, path)
	}
}

// isLeafMapping reports whether every key of the mapping is one of the
// reserved leaf keys. Leaves are declared explicitly as {value, question}
// rather than sniffed from shape.
func isLeafMapping(node *yaml.Node) bool {
	for i := 0; i+1 < len(node.Content); i += 2 {
		switch node.Content[i].Value {
		case "value", "question":
		default:
			return false
		}
	}
	return true
}

func parseLeaf(node *yaml.Node, path string) (Leaf, error) {
	var leaf Leaf
	hasValue := false
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		switch keyNode.Value {
		case "value":
			if err := valNode.Decode(&leaf.Default); err != nil {
				return Leaf{}, fmt.Errorf("%w: bad value at %q: %v", ErrSchema, path, err)
			}
			hasValue = true
		case "question":
			if valNode.Kind != yaml.ScalarNode {
				return Leaf{}, fmt.Errorf("%w: question at %q must be a string", ErrSchema, path)
			}
			leaf.Question = valNode.Value
		}
	}
	if !hasValue && strings.TrimSpace(leaf.Question) == "" {
		return Leaf{}, fmt.Errorf("%w: leaf at %q needs a value or a question", ErrSchema, path)
	}
	return leaf, nil
}

// Questions walks the tree depth-first and collects every leaf that carries
// a question, in declaration order. The result is stable for a given
// template regardless of leaf defaults.
func (t *Template) Questions() []Question {
	var out []Question
	walkQuestions(t.Root, "", &out)
	return out
}

func walkQuestions(group Group, path string, out *[]Question) {
	for _, field := range group.Fields {
		fieldPath := joinPath(path, field.Name)
		switch node := field.Node.(type) {
		case Group:
			walkQuestions(node, fieldPath, out)
		case Leaf:
			if strings.TrimSpace(node.Question) != "" {
				*out = append(*out, Question{Path: fieldPath, Question: node.Question})
			}
		}
	}
}

// Lookup resolves a dotted path against the template tree.
func (t *Template) Lookup(path string) (Node, bool) {
	if strings.TrimSpace(path) == "" {
		return t.Root, true
	}
	var node Node = t.Root
	for _, segment := range strings.Split(path, ".") {
		group, ok := node.(Group)
		if !ok {
			return nil, false
		}
		child, ok := group.child(segment)
		if !ok {
			return nil, false
		}
		node = child
	}
	return node, true
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}
