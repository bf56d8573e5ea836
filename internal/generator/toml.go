package generator

import (
	"context"

	"github.com/pelletier/go-toml/v2"
)

// TOML renders a flat table of key name to value. Dotted key names are quoted,
// not expanded into sub-tables.
type TOML struct{}

func NewTOML() *TOML { return &TOML{} }

func (*TOML) Format() string      { return "toml" }
func (*TOML) Extension() string   { return ".toml" }
func (*TOML) ContentType() string { return "application/toml" }

func (g *TOML) Generate(ctx context.Context, in Input) ([]byte, error) {
	return generate(ctx, g, in)
}

func (*TOML) Render(entries []Entry) ([]byte, error) {
	doc := make(map[string]string, len(entries))
	for _, e := range entries {
		doc[e.KeyName] = e.Value
	}
	return toml.Marshal(doc)
}
