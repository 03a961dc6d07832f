// Package annotate turns editing-surface mutation events into persistence calls and
// seeds the surface from stored annotations.
package annotate

import (
	"encoding/json"

	"github.com/MarcoPoloResearchLab/folio/internal/annotations"
)

// EventType is the kind of change the editing surface reports.
type EventType string

const (
	EventCreate EventType = "create"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// Event is one mutation notification. Patch holds the changed property names with their
// new raw values and may be empty for drag previews.
type Event struct {
	Type       EventType                  `json:"type"`
	Committed  bool                       `json:"committed"`
	SurfaceID  string                     `json:"surface_id"`
	Annotation annotations.Annotation     `json:"annotation"`
	Patch      map[string]json.RawMessage `json:"patch,omitempty"`
}

func (event Event) surfaceID() string {
	if event.SurfaceID != "" {
		return event.SurfaceID
	}
	return event.Annotation.ID
}

var significantProperties = map[string]struct{}{
	"color":        {},
	"opacity":      {},
	"blendMode":    {},
	"blend_mode":   {},
	"strokeWidth":  {},
	"stroke_width": {},
	"rect":         {},
	"custom":       {},
	"author":       {},
}

func touchesSignificantProperty(patch map[string]json.RawMessage) bool {
	for name := range patch {
		if _, ok := significantProperties[name]; ok {
			return true
		}
	}
	return false
}
