package template

// Node is either a Group of named child nodes or a Leaf field.
type Node interface {
	isNode()
}

// Group holds named child nodes in declaration order.
type Group struct {
	Fields []Field
}

// Field is a named child of a Group.
type Field struct {
	Name string
	Node Node
}

// Leaf is a terminal field. A non-empty Question marks it as promptable
// during project onboarding.
type Leaf struct {
	Default  any
	Question string
}

func (Group) isNode() {}
func (Leaf) isNode()  {}

// Template describes the shape of a project dossier.
type Template struct {
	Root Group
}

// Question pairs a dotted field path with the prompt used to elicit it.
type Question struct {
	Path     string
	Question string
}

func (g Group) child(name string) (Node, bool) {
	for _, f := range g.Fields {
		if f.Name == name {
			return f.Node, true
		}
	}
	return nil, false
}
