// Package generator renders the keys of a module into a per-language bundle.
// Each output format is one OutputGenerator; the active one is picked from the
// Registry by the configured format name.
package generator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/uilm/uilm-service/internal/db/models"
)

// ErrUnknownFormat is returned by Registry.Get for an unregistered format.
var ErrUnknownFormat = errors.New("unknown output format")

// Input is everything a generator needs to render one language.
type Input struct {
	Language        string          // culture being rendered, e.g. "de-DE"
	Modules         []models.Module // modules the keys belong to
	Keys            []models.Key
	DefaultLanguage string   // fallback culture for missing values
	Languages       []string // every culture configured for the tenant
}

// Entry is one rendered key.
type Entry struct {
	KeyName               string   `json:"KeyName"`
	Module                string   `json:"Module"`
	ModuleID              string   `json:"ModuleId"`
	Value                 string   `json:"Value"`
	Routes                []string `json:"Routes"`
	IsPartiallyTranslated bool     `json:"IsPartiallyTranslated"`
}

// OutputGenerator produces the artifact for one language.
type OutputGenerator interface {
	Format() string
	Extension() string
	ContentType() string
	Generate(ctx context.Context, in Input) ([]byte, error)
	// Render writes already resolved entries. Export uses it to convert files.
	Render(entries []Entry) ([]byte, error)
}

// Decoder is implemented by formats that keep enough information to be
// rendered again in another format.
type Decoder interface {
	Decode(data []byte) ([]Entry, error)
}

// BuildEntries resolves the value of every key for in.Language, falling back to
// the default language when the key has no value for it. A key is partially
// translated when it lacks a value for any configured language. Entries are
// sorted by module name, then key name.
func BuildEntries(in Input) []Entry {
	moduleNames := make(map[string]string, len(in.Modules))
	for _, m := range in.Modules {
		moduleNames[m.ID] = m.Name
	}

	entries := make([]Entry, 0, len(in.Keys))
	for i := range in.Keys {
		k := &in.Keys[i]
		value, ok := k.Resources.Lookup(in.Language)
		if !ok && in.DefaultLanguage != "" {
			value, _ = k.Resources.Lookup(in.DefaultLanguage)
		}
		routes := []string(k.Routes)
		if routes == nil {
			routes = []string{}
		}
		entries = append(entries, Entry{
			KeyName:               k.KeyName,
			Module:                moduleNames[k.ModuleID],
			ModuleID:              k.ModuleID,
			Value:                 value,
			Routes:                routes,
			IsPartiallyTranslated: !k.CoversLanguages(in.Languages),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Module != entries[j].Module {
			return entries[i].Module < entries[j].Module
		}
		return entries[i].KeyName < entries[j].KeyName
	})
	return entries
}

// generate is the shared Generate body of every format.
func generate(ctx context.Context, g OutputGenerator, in Input) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := g.Render(BuildEntries(in))
	if err != nil {
		return nil, fmt.Errorf("failed to render %s for %s: %w", g.Format(), in.Language, err)
	}
	return out, nil
}

// Registry maps format names to generators.
type Registry struct {
	mu         sync.RWMutex
	generators map[string]OutputGenerator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{generators: make(map[string]OutputGenerator)}
}

// DefaultRegistry returns a registry holding every built-in format.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewUilm())
	r.Register(NewJSON())
	r.Register(NewNestedJSON())
	r.Register(NewCSV())
	r.Register(NewYAML())
	r.Register(NewTOML())
	r.Register(NewPO())
	return r
}

// Register adds g, replacing any generator with the same format.
func (r *Registry) Register(g OutputGenerator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[strings.ToLower(g.Format())] = g
}

// Get returns the generator for format. Lookup is case-insensitive.
func (r *Registry) Get(format string) (OutputGenerator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.generators[strings.ToLower(strings.TrimSpace(format))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return g, nil
}

// Formats lists the registered format names in sorted order.
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.generators))
	for f := range r.generators {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
