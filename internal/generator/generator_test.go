package generator

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"testing"

	"github.com/goccy/go-yaml"
	"github.com/leonelquinteros/gotext"
	"github.com/lib/pq"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uilm/uilm-service/internal/db/models"
)

// ---- shared test data -------------------------------------------------------

func sampleInput(language string) Input {
	return Input{
		Language:        language,
		DefaultLanguage: "en-US",
		Languages:       []string{"en-US", "de-DE"},
		Modules:         []models.Module{{ID: "m1", Name: "checkout"}},
		Keys: []models.Key{
			{
				ID: "k2", ModuleID: "m1", KeyName: "home.title",
				Resources: models.Resources{{Culture: "en-US", Value: "Home"}, {Culture: "de-DE", Value: "Startseite"}},
				Routes:    pq.StringArray{"/home"},
			},
			{
				ID: "k1", ModuleID: "m1", KeyName: "cart.empty",
				Resources: models.Resources{{Culture: "en-US", Value: "Your cart is empty"}},
			},
		},
	}
}

// ---- BuildEntries -----------------------------------------------------------

func TestBuildEntries_FallbackAndPartialFlag(t *testing.T) {
	entries := BuildEntries(sampleInput("de-DE"))
	require.Len(t, entries, 2)

	assert.Equal(t, "cart.empty", entries[0].KeyName, "entries sorted by key name")
	assert.Equal(t, "Your cart is empty", entries[0].Value, "falls back to default language")
	assert.True(t, entries[0].IsPartiallyTranslated)
	assert.Equal(t, []string{}, entries[0].Routes)

	assert.Equal(t, "home.title", entries[1].KeyName)
	assert.Equal(t, "Startseite", entries[1].Value)
	assert.False(t, entries[1].IsPartiallyTranslated)
	assert.Equal(t, "checkout", entries[1].Module)
	assert.Equal(t, []string{"/home"}, entries[1].Routes)
}

func TestBuildEntries_NoDefaultLeavesValueEmpty(t *testing.T) {
	in := sampleInput("fr-FR")
	in.DefaultLanguage = ""
	entries := BuildEntries(in)
	for _, e := range entries {
		assert.Empty(t, e.Value, e.KeyName)
	}
}

func TestBuildEntries_EmptyValueCountsAsMissing(t *testing.T) {
	in := sampleInput("de-DE")
	in.Keys = []models.Key{{
		KeyName: "blank", ModuleID: "m1",
		Resources: models.Resources{{Culture: "en-US", Value: "x"}, {Culture: "de-DE", Value: ""}},
	}}
	entries := BuildEntries(in)
	require.Len(t, entries, 1)
	assert.Equal(t, "x", entries[0].Value)
	assert.True(t, entries[0].IsPartiallyTranslated)
}

// ---- Registry ---------------------------------------------------------------

func TestDefaultRegistry_Formats(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{"csv", "json", "nested-json", "po", "toml", "uilm", "yaml"}, r.Formats())

	g, err := r.Get(" JSON ")
	require.NoError(t, err)
	assert.Equal(t, "json", g.Format())

	_, err = r.Get("xml")
	assert.True(t, errors.Is(err, ErrUnknownFormat))
}

func TestGenerate_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewJSON().Generate(ctx, sampleInput("en-US"))
	assert.ErrorIs(t, err, context.Canceled)
}

// ---- formats ----------------------------------------------------------------

func TestUilm_RoundTripsThroughDecoder(t *testing.T) {
	g := NewUilm()
	out, err := g.Generate(context.Background(), sampleInput("de-DE"))
	require.NoError(t, err)

	var dec Decoder = g
	entries, err := dec.Decode(out)
	require.NoError(t, err)
	assert.Equal(t, BuildEntries(sampleInput("de-DE")), entries)
}

func TestUilm_EmptyRendersArray(t *testing.T) {
	out, err := NewUilm().Render(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(out))
}

func TestJSON_Flat(t *testing.T) {
	out, err := NewJSON().Generate(context.Background(), sampleInput("en-US"))
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, map[string]string{"cart.empty": "Your cart is empty", "home.title": "Home"}, got)
}

func TestNestedJSON_ExpandsDots(t *testing.T) {
	out, err := NewNestedJSON().Render([]Entry{
		{KeyName: "home.title", Value: "Home"},
		{KeyName: "home.subtitle", Value: "Welcome"},
		{KeyName: "plain", Value: "p"},
	})
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, map[string]interface{}{"title": "Home", "subtitle": "Welcome"}, got["home"])
	assert.Equal(t, "p", got["plain"])
}

func TestNestedJSON_ValueAndGroupShareName(t *testing.T) {
	for _, order := range [][]Entry{
		{{KeyName: "a", Value: "leaf"}, {KeyName: "a.b", Value: "deeper"}},
		{{KeyName: "a.b", Value: "deeper"}, {KeyName: "a", Value: "leaf"}},
	} {
		out, err := NewNestedJSON().Render(order)
		require.NoError(t, err)

		var got map[string]interface{}
		require.NoError(t, json.Unmarshal(out, &got))
		assert.Equal(t, map[string]interface{}{"_": "leaf", "b": "deeper"}, got["a"])
	}
}

func TestCSV_HeaderAndRows(t *testing.T) {
	out, err := NewCSV().Generate(context.Background(), sampleInput("de-DE"))
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"key", "value", "partially_translated"},
		{"cart.empty", "Your cart is empty", "true"},
		{"home.title", "Startseite", "false"},
	}, records)
}

func TestYAML_Flat(t *testing.T) {
	out, err := NewYAML().Generate(context.Background(), sampleInput("en-US"))
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, yaml.Unmarshal(out, &got))
	assert.Equal(t, "Home", got["home.title"])
	assert.Equal(t, "Your cart is empty", got["cart.empty"])
}

func TestTOML_QuotesDottedKeys(t *testing.T) {
	out, err := NewTOML().Generate(context.Background(), sampleInput("en-US"))
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, toml.Unmarshal(out, &got))
	assert.Equal(t, "Home", got["home.title"])
}

func TestPO_ParsesBack(t *testing.T) {
	out, err := NewPO().Generate(context.Background(), sampleInput("de-DE"))
	require.NoError(t, err)

	po := gotext.NewPo()
	po.Parse(out)
	assert.Equal(t, "Startseite", po.Get("home.title"))
	assert.Equal(t, "Your cart is empty", po.Get("cart.empty"))
}
