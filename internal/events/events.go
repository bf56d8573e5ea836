// Package events defines the integration events exchanged between the API and
// the worker processes, and the bus that carries them. Delivery is at least
// once: handlers must tolerate seeing the same event more than once.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/uilm/uilm-service/internal/db/models"
)

// Type names an event. The value doubles as the stream / queue name suffix.
type Type string

const (
	TypeGenerateUilmFiles        Type = "GenerateUilmFilesEvent"
	TypeTranslateAll             Type = "TranslateAllEvent"
	TypeUilmExport               Type = "UilmExportEvent"
	TypeEnvironmentDataMigration Type = "EnvironmentDataMigrationEvent"
)

// ErrMalformed marks an envelope whose payload cannot be decoded. Buses
// dead-letter such messages on first delivery instead of retrying them.
var ErrMalformed = errors.New("malformed event")

// Event is implemented by every payload that can travel on the bus.
type Event interface {
	EventType() Type
}

// GenerateUilmFilesEvent asks the generation pipeline to rebuild the language
// files of one module, or of every module when ModuleID is AllModules.
type GenerateUilmFilesEvent struct {
	ProjectKey string             `json:"ProjectKey"`
	ModuleID   models.ModuleScope `json:"ModuleId"`
}

func (GenerateUilmFilesEvent) EventType() Type { return TypeGenerateUilmFiles }

// TranslateAllEvent is consumed by the machine translation collaborator.
type TranslateAllEvent struct {
	ProjectKey      string `json:"ProjectKey"`
	DefaultLanguage string `json:"DefaultLanguage"`
	CorrelationID   string `json:"CorrelationId"`
}

func (TranslateAllEvent) EventType() Type { return TypeTranslateAll }

// UilmExportEvent asks the export pipeline to package the latest files of the
// given modules and languages into one downloadable archive named FileID.
type UilmExportEvent struct {
	ProjectKey string   `json:"ProjectKey"`
	ModuleIDs  []string `json:"ModuleIds"`
	Languages  []string `json:"Languages"`
	OutputType string   `json:"OutputType"`
	FileID     string   `json:"FileId"`
}

func (UilmExportEvent) EventType() Type { return TypeUilmExport }

// EnvironmentDataMigrationEvent copies modules and keys from ProjectKey into
// TargetedProjectKey.
type EnvironmentDataMigrationEvent struct {
	ProjectKey                  string `json:"ProjectKey"`
	TargetedProjectKey          string `json:"TargetedProjectKey"`
	ShouldOverWriteExistingData bool   `json:"ShouldOverWriteExistingData"`
}

func (EnvironmentDataMigrationEvent) EventType() Type { return TypeEnvironmentDataMigration }

// Envelope is the transport representation of an event.
type Envelope struct {
	ID          string          `json:"id"`
	Type        Type            `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"published_at"`
	// Attempt is the 1-based delivery attempt, filled in by the bus on delivery.
	Attempt int `json:"attempt,omitempty"`
}

// NewEnvelope wraps ev with a fresh id and timestamp.
func NewEnvelope(ev Event) (Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s: %w", ev.EventType(), err)
	}
	return Envelope{
		ID:          uuid.New().String(),
		Type:        ev.EventType(),
		Payload:     payload,
		PublishedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the payload of env into a T. A type mismatch or invalid JSON
// yields an error wrapping ErrMalformed.
func Decode[T Event](env Envelope) (T, error) {
	var ev T
	if env.Type != ev.EventType() {
		return ev, fmt.Errorf("%w: envelope type %s, want %s", ErrMalformed, env.Type, ev.EventType())
	}
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		return ev, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	return ev, nil
}
