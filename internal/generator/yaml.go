package generator

import (
	"context"

	"github.com/goccy/go-yaml"
)

// YAML renders a flat mapping of key name to value in entry order.
type YAML struct{}

func NewYAML() *YAML { return &YAML{} }

func (*YAML) Format() string      { return "yaml" }
func (*YAML) Extension() string   { return ".yaml" }
func (*YAML) ContentType() string { return "application/yaml" }

func (g *YAML) Generate(ctx context.Context, in Input) ([]byte, error) {
	return generate(ctx, g, in)
}

func (*YAML) Render(entries []Entry) ([]byte, error) {
	doc := make(yaml.MapSlice, 0, len(entries))
	for _, e := range entries {
		doc = append(doc, yaml.MapItem{Key: e.KeyName, Value: e.Value})
	}
	return yaml.Marshal(doc)
}
