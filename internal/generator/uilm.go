package generator

import (
	"context"
	"encoding/json"
	"fmt"
)

// Uilm renders the native bundle: a JSON array of entries carrying module,
// routes and the partial translation flag. It is the only format that can be
// decoded back into entries.
type Uilm struct{}

func NewUilm() *Uilm { return &Uilm{} }

func (*Uilm) Format() string      { return "uilm" }
func (*Uilm) Extension() string   { return ".uilm.json" }
func (*Uilm) ContentType() string { return "application/json" }

func (g *Uilm) Generate(ctx context.Context, in Input) ([]byte, error) {
	return generate(ctx, g, in)
}

func (*Uilm) Render(entries []Entry) ([]byte, error) {
	if entries == nil {
		entries = []Entry{}
	}
	return json.MarshalIndent(entries, "", "  ")
}

func (*Uilm) Decode(data []byte) ([]Entry, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode uilm bundle: %w", err)
	}
	return entries, nil
}
