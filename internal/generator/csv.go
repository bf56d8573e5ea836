package generator

import (
	"bytes"
	"context"
	"encoding/csv"
	"strconv"
)

// CSV renders key,value,partially_translated rows with a header line.
type CSV struct{}

func NewCSV() *CSV { return &CSV{} }

func (*CSV) Format() string      { return "csv" }
func (*CSV) Extension() string   { return ".csv" }
func (*CSV) ContentType() string { return "text/csv; charset=utf-8" }

func (g *CSV) Generate(ctx context.Context, in Input) ([]byte, error) {
	return generate(ctx, g, in)
}

func (*CSV) Render(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"key", "value", "partially_translated"}); err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := w.Write([]string{e.KeyName, e.Value, strconv.FormatBool(e.IsPartiallyTranslated)}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
