package generator

import (
	"context"

	"github.com/leonelquinteros/gotext"
)

// PO renders a gettext catalogue with the key name as msgid.
type PO struct{}

func NewPO() *PO { return &PO{} }

func (*PO) Format() string      { return "po" }
func (*PO) Extension() string   { return ".po" }
func (*PO) ContentType() string { return "text/x-gettext-translation; charset=utf-8" }

func (g *PO) Generate(ctx context.Context, in Input) ([]byte, error) {
	return generate(ctx, g, in)
}

func (*PO) Render(entries []Entry) ([]byte, error) {
	po := gotext.NewPo()
	for _, e := range entries {
		po.Set(e.KeyName, e.Value)
	}
	return po.MarshalText()
}
