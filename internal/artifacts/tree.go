// Package artifacts shapes job output payloads for responses: output
// trees are parsed into typed nodes, and any node that references a
// stored object gets a time-limited download URL attached.
package artifacts

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// NodeKind discriminates the artifact tree union.
type NodeKind int

const (
	KindScalar NodeKind = iota
	KindSequence
	KindObject
)

// StorageRefField is the object field whose presence marks a node as a
// storage-object reference. Its string value is the object key.
const StorageRefField = "key"

// Node is one node of a parsed output tree. Exactly one of the
// kind-specific fields is populated, selected by Kind. An Object node
// whose source carried a string-valued StorageRefField also has
// StorageRef set; that is the typed fact the enricher acts on.
type Node struct {
	Kind NodeKind

	Scalar     json.RawMessage
	Items      []*Node
	Fields     map[string]*Node
	StorageRef string
}

// Parse decodes a raw JSON payload into an artifact tree.
func Parse(raw json.RawMessage) (*Node, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	switch trimmed[0] {
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return nil, fmt.Errorf("parsing object node: %w", err)
		}
		node := &Node{Kind: KindObject, Fields: make(map[string]*Node, len(fields))}
		for name, value := range fields {
			child, err := Parse(value)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", name, err)
			}
			node.Fields[name] = child
		}
		if keyNode, ok := node.Fields[StorageRefField]; ok && keyNode.Kind == KindScalar {
			var key string
			if err := json.Unmarshal(keyNode.Scalar, &key); err == nil && key != "" {
				node.StorageRef = key
			}
		}
		return node, nil

	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("parsing sequence node: %w", err)
		}
		node := &Node{Kind: KindSequence, Items: make([]*Node, 0, len(items))}
		for i, item := range items {
			child, err := Parse(item)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			node.Items = append(node.Items, child)
		}
		return node, nil

	default:
		return &Node{Kind: KindScalar, Scalar: trimmed}, nil
	}
}

// Render encodes the tree back to JSON.
func (n *Node) Render() (json.RawMessage, error) {
	switch n.Kind {
	case KindScalar:
		return n.Scalar, nil

	case KindSequence:
		items := make([]json.RawMessage, 0, len(n.Items))
		for i, item := range n.Items {
			raw, err := item.Render()
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			items = append(items, raw)
		}
		return json.Marshal(items)

	case KindObject:
		fields := make(map[string]json.RawMessage, len(n.Fields))
		for name, field := range n.Fields {
			raw, err := field.Render()
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", name, err)
			}
			fields[name] = raw
		}
		return json.Marshal(fields)

	default:
		return nil, fmt.Errorf("unknown node kind %d", n.Kind)
	}
}
