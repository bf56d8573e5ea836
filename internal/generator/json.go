package generator

import (
	"context"
	"encoding/json"
	"strings"
)

// JSON renders a flat {"KEY": "value"} object.
type JSON struct{}

func NewJSON() *JSON { return &JSON{} }

func (*JSON) Format() string      { return "json" }
func (*JSON) Extension() string   { return ".json" }
func (*JSON) ContentType() string { return "application/json" }

func (g *JSON) Generate(ctx context.Context, in Input) ([]byte, error) {
	return generate(ctx, g, in)
}

func (*JSON) Render(entries []Entry) ([]byte, error) {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.KeyName] = e.Value
	}
	return json.MarshalIndent(out, "", "  ")
}

// NestedJSON expands dot separated key names into nested objects, so
// "home.title" becomes {"home": {"title": ...}}. When a name is both a value and
// a group ("home" and "home.title") the value is stored under "_" in the group.
type NestedJSON struct{}

func NewNestedJSON() *NestedJSON { return &NestedJSON{} }

func (*NestedJSON) Format() string      { return "nested-json" }
func (*NestedJSON) Extension() string   { return ".json" }
func (*NestedJSON) ContentType() string { return "application/json" }

func (g *NestedJSON) Generate(ctx context.Context, in Input) ([]byte, error) {
	return generate(ctx, g, in)
}

func (*NestedJSON) Render(entries []Entry) ([]byte, error) {
	root := map[string]interface{}{}
	for _, e := range entries {
		insertNested(root, strings.Split(e.KeyName, "."), e.Value)
	}
	return json.MarshalIndent(root, "", "  ")
}

const groupValueKey = "_"

func insertNested(node map[string]interface{}, path []string, value string) {
	for i, part := range path {
		if i == len(path)-1 {
			if group, ok := node[part].(map[string]interface{}); ok {
				group[groupValueKey] = value
				return
			}
			node[part] = value
			return
		}
		switch child := node[part].(type) {
		case map[string]interface{}:
			node = child
		case string:
			next := map[string]interface{}{groupValueKey: child}
			node[part] = next
			node = next
		default:
			next := map[string]interface{}{}
			node[part] = next
			node = next
		}
	}
}
