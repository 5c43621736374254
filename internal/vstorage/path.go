// Package vstorage encodes and decodes batched abci_query calls against a
// chain's hierarchical storage tree.
//
// A Path names one node in the tree together with the way it is read: as a
// leaf holding a history of serialized values (KindData) or as a listing of
// child segment names (KindChildren). Two paths with the same name and
// different kinds are distinct.
package vstorage

import (
	"fmt"
	"strings"
)

// DefaultNamespace is the custom query route the chain exposes its storage
// tree under.
const DefaultNamespace = "vstorage"

type Kind int

const (
	KindData Kind = iota + 1
	KindChildren
)

var kindSegments = map[Kind]string{
	KindData:     "data",
	KindChildren: "children",
}

func (k Kind) Valid() bool {
	_, ok := kindSegments[k]
	return ok
}

// Segment is the query route segment for the kind.
func (k Kind) Segment() string {
	return kindSegments[k]
}

func (k Kind) String() string {
	if segment, ok := kindSegments[k]; ok {
		return segment
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind accepts the route segment names plus the leaf/listing aliases.
func ParseKind(value string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "data", "leaf":
		return KindData, nil
	case "children", "listing":
		return KindChildren, nil
	default:
		return 0, fmt.Errorf("unknown path kind %q", value)
	}
}

type Path struct {
	Kind Kind
	Name string
}

func Data(name string) Path {
	return Path{Kind: KindData, Name: name}
}

func Children(name string) Path {
	return Path{Kind: KindChildren, Name: name}
}

// ParsePath parses "kind:name", e.g. "children:published.vaultFactory". A
// bare name is read as a data path.
func ParsePath(value string) (Path, error) {
	kind := KindData
	name := strings.TrimSpace(value)
	if prefix, rest, ok := strings.Cut(name, ":"); ok {
		parsed, err := ParseKind(prefix)
		if err != nil {
			return Path{}, err
		}
		kind = parsed
		name = strings.TrimSpace(rest)
	}
	path := Path{Kind: kind, Name: name}
	if err := path.Validate(); err != nil {
		return Path{}, err
	}
	return path, nil
}

func (p Path) Validate() error {
	if !p.Kind.Valid() {
		return fmt.Errorf("invalid path kind %d", int(p.Kind))
	}
	if p.Name == "" {
		return fmt.Errorf("path name is required")
	}
	for _, segment := range strings.Split(p.Name, ".") {
		if segment == "" {
			return fmt.Errorf("path %q has an empty segment", p.Name)
		}
	}
	return nil
}

// QueryPath is the abci_query route for p, /custom/<namespace>/<kind>/<name>.
func (p Path) QueryPath(namespace string) string {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return "/custom/" + namespace + "/" + p.Kind.Segment() + "/" + p.Name
}

func (p Path) String() string {
	return p.Kind.String() + ":" + p.Name
}
