package annotations

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Kind is the stable wire tag of an annotation type.
type Kind string

const (
	KindHighlight Kind = "highlight"
	KindUnderline Kind = "underline"
	KindStrikeOut Kind = "strikeout"
	KindSquiggly  Kind = "squiggly"
	KindFreeText  Kind = "freetext"
	KindInk       Kind = "ink"
	KindSquare    Kind = "square"
	KindCircle    Kind = "circle"
	KindLine      Kind = "line"
	KindPolygon   Kind = "polygon"
	KindPolyline  Kind = "polyline"
)

// BlendMode is the compositing mode applied when drawing an annotation.
type BlendMode string

const (
	BlendModeNormal   BlendMode = "normal"
	BlendModeMultiply BlendMode = "multiply"
	BlendModeScreen   BlendMode = "screen"
	BlendModeOverlay  BlendMode = "overlay"
	BlendModeDarken   BlendMode = "darken"
	BlendModeLighten  BlendMode = "lighten"
)

const maxAnnotationIDLength = 190

var (
	// ErrInvalidAnnotation indicates that an annotation snapshot failed validation.
	ErrInvalidAnnotation = errors.New("annotations: invalid annotation")
	// ErrInvalidAnnotationID indicates that an annotation identifier is empty or too long.
	ErrInvalidAnnotationID = errors.New("annotations: invalid annotation id")
	// ErrAnnotationNotFound indicates that no stored annotation matches the identifier.
	ErrAnnotationNotFound = errors.New("annotations: annotation not found")

	structValidator = validator.New(validator.WithRequiredStructEnabled())
)

// ID is a validated durable annotation identifier.
type ID string

// NewID validates raw input and returns an ID.
func NewID(rawInput string) (ID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAnnotationID)
	}
	if len(trimmed) > maxAnnotationIDLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidAnnotationID, maxAnnotationIDLength)
	}
	return ID(trimmed), nil
}

// String returns the underlying identifier.
func (id ID) String() string {
	return string(id)
}

// Rect is an origin plus size in page space.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width" validate:"gte=0"`
	Height float64 `json:"height" validate:"gte=0"`
}

// Annotation is a visual marking anchored to one page of a document. Geometry and the
// author payload are opaque JSON and travel unmodified.
type Annotation struct {
	ID               string    `json:"id,omitempty"`
	DocumentKey      string    `json:"document_key,omitempty"`
	PageIndex        int       `json:"page_index" validate:"gte=0"`
	Kind             Kind      `json:"kind" validate:"required,oneof=highlight underline strikeout squiggly freetext ink square circle line polygon polyline"`
	Color            string    `json:"color,omitempty" validate:"max=64"`
	Opacity          float64   `json:"opacity" validate:"gte=0,lte=1"`
	BlendMode        BlendMode `json:"blend_mode,omitempty" validate:"omitempty,oneof=normal multiply screen overlay darken lighten"`
	StrokeWidth      float64   `json:"stroke_width" validate:"gte=0"`
	Rect             Rect      `json:"rect"`
	SegmentRects     Payload   `json:"segment_rects,omitempty"`
	InkPaths         Payload   `json:"ink_paths,omitempty"`
	LineCoordinates  Payload   `json:"line_coordinates,omitempty"`
	Vertices         Payload   `json:"vertices,omitempty"`
	Custom           Payload   `json:"custom,omitempty"`
	Author           string    `json:"author,omitempty" validate:"max=320"`
	CreatedAtSeconds int64     `json:"created_at_s,omitempty"`
	UpdatedAtSeconds int64     `json:"updated_at_s,omitempty"`
}

// Validate checks the snapshot against the annotation constraints.
func (annotation Annotation) Validate() error {
	if err := structValidator.Struct(annotation); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAnnotation, err)
	}
	return validateRawFields(annotation.SegmentRects, annotation.InkPaths, annotation.LineCoordinates, annotation.Vertices, annotation.Custom)
}

// HasInkPaths reports whether an ink annotation carries any path data.
func (annotation Annotation) HasInkPaths() bool {
	return !annotation.InkPaths.empty()
}

// Patch lists the fields to overwrite on a stored annotation; nil fields are left untouched.
type Patch struct {
	PageIndex       *int       `json:"page_index,omitempty" validate:"omitempty,gte=0"`
	Color           *string    `json:"color,omitempty" validate:"omitempty,max=64"`
	Opacity         *float64   `json:"opacity,omitempty" validate:"omitempty,gte=0,lte=1"`
	BlendMode       *BlendMode `json:"blend_mode,omitempty" validate:"omitempty,oneof=normal multiply screen overlay darken lighten"`
	StrokeWidth     *float64   `json:"stroke_width,omitempty" validate:"omitempty,gte=0"`
	Rect            *Rect      `json:"rect,omitempty"`
	SegmentRects    Payload    `json:"segment_rects,omitempty"`
	InkPaths        Payload    `json:"ink_paths,omitempty"`
	LineCoordinates Payload    `json:"line_coordinates,omitempty"`
	Vertices        Payload    `json:"vertices,omitempty"`
	Custom          Payload    `json:"custom,omitempty"`
	Author          *string    `json:"author,omitempty" validate:"omitempty,max=320"`
}

// Validate checks the patch against the annotation constraints.
func (patch Patch) Validate() error {
	if err := structValidator.Struct(patch); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAnnotation, err)
	}
	return validateRawFields(patch.SegmentRects, patch.InkPaths, patch.LineCoordinates, patch.Vertices, patch.Custom)
}

// IsEmpty reports whether the patch overwrites nothing.
func (patch Patch) IsEmpty() bool {
	return patch.PageIndex == nil && patch.Color == nil && patch.Opacity == nil &&
		patch.BlendMode == nil && patch.StrokeWidth == nil && patch.Rect == nil &&
		patch.SegmentRects == nil && patch.InkPaths == nil && patch.LineCoordinates == nil &&
		patch.Vertices == nil && patch.Custom == nil && patch.Author == nil
}

// PatchFromAnnotation builds the full mutable property set of a snapshot.
func PatchFromAnnotation(annotation Annotation) Patch {
	pageIndex := annotation.PageIndex
	color := annotation.Color
	opacity := annotation.Opacity
	blendMode := annotation.BlendMode
	strokeWidth := annotation.StrokeWidth
	rect := annotation.Rect
	author := annotation.Author
	patch := Patch{
		PageIndex:       &pageIndex,
		Color:           &color,
		Opacity:         &opacity,
		StrokeWidth:     &strokeWidth,
		Rect:            &rect,
		SegmentRects:    annotation.SegmentRects,
		InkPaths:        annotation.InkPaths,
		LineCoordinates: annotation.LineCoordinates,
		Vertices:        annotation.Vertices,
		Custom:          annotation.Custom,
		Author:          &author,
	}
	if blendMode != "" {
		patch.BlendMode = &blendMode
	}
	return patch
}

func validateRawFields(fields ...Payload) error {
	for _, field := range fields {
		if !field.valid() {
			return fmt.Errorf("%w: malformed json payload", ErrInvalidAnnotation)
		}
	}
	return nil
}
