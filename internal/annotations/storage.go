package annotations

// Record stores one annotation per row. Sequence is the creation order.
type Record struct {
	Sequence            int64   `gorm:"column:sequence;primaryKey;autoIncrement"`
	AnnotationID        string  `gorm:"column:annotation_id;size:190;not null;uniqueIndex"`
	UserID              string  `gorm:"column:user_id;size:190;not null;index:idx_annotations_owner_document,priority:1"`
	DocumentKey         string  `gorm:"column:document_key;size:190;not null;index:idx_annotations_owner_document,priority:2"`
	PageIndex           int     `gorm:"column:page_index;not null;default:0;index:idx_annotations_owner_document,priority:3"`
	Kind                string  `gorm:"column:kind;size:32;not null"`
	Color               string  `gorm:"column:color;size:64;not null;default:''"`
	Opacity             float64 `gorm:"column:opacity;not null"`
	BlendMode           string  `gorm:"column:blend_mode;size:32;not null;default:''"`
	StrokeWidth         float64 `gorm:"column:stroke_width;not null;default:0"`
	RectX               float64 `gorm:"column:rect_x;not null;default:0"`
	RectY               float64 `gorm:"column:rect_y;not null;default:0"`
	RectWidth           float64 `gorm:"column:rect_width;not null;default:0"`
	RectHeight          float64 `gorm:"column:rect_height;not null;default:0"`
	SegmentRectsJSON    string  `gorm:"column:segment_rects_json;type:text;not null;default:''"`
	InkPathsJSON        string  `gorm:"column:ink_paths_json;type:text;not null;default:''"`
	LineCoordinatesJSON string  `gorm:"column:line_coordinates_json;type:text;not null;default:''"`
	VerticesJSON        string  `gorm:"column:vertices_json;type:text;not null;default:''"`
	CustomJSON          string  `gorm:"column:custom_json;type:text;not null;default:''"`
	Author              string  `gorm:"column:author;size:320;not null;default:''"`
	CreatedAtSeconds    int64   `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds    int64   `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "annotations"
}

func recordFromAnnotation(annotation Annotation) Record {
	return Record{
		AnnotationID:        annotation.ID,
		DocumentKey:         annotation.DocumentKey,
		PageIndex:           annotation.PageIndex,
		Kind:                string(annotation.Kind),
		Color:               annotation.Color,
		Opacity:             annotation.Opacity,
		BlendMode:           string(annotation.BlendMode),
		StrokeWidth:         annotation.StrokeWidth,
		RectX:               annotation.Rect.X,
		RectY:               annotation.Rect.Y,
		RectWidth:           annotation.Rect.Width,
		RectHeight:          annotation.Rect.Height,
		SegmentRectsJSON:    string(annotation.SegmentRects),
		InkPathsJSON:        string(annotation.InkPaths),
		LineCoordinatesJSON: string(annotation.LineCoordinates),
		VerticesJSON:        string(annotation.Vertices),
		CustomJSON:          string(annotation.Custom),
		Author:              annotation.Author,
		CreatedAtSeconds:    annotation.CreatedAtSeconds,
		UpdatedAtSeconds:    annotation.UpdatedAtSeconds,
	}
}

func (record Record) toAnnotation() Annotation {
	return Annotation{
		ID:          record.AnnotationID,
		DocumentKey: record.DocumentKey,
		PageIndex:   record.PageIndex,
		Kind:        Kind(record.Kind),
		Color:       record.Color,
		Opacity:     record.Opacity,
		BlendMode:   BlendMode(record.BlendMode),
		StrokeWidth: record.StrokeWidth,
		Rect: Rect{
			X:      record.RectX,
			Y:      record.RectY,
			Width:  record.RectWidth,
			Height: record.RectHeight,
		},
		SegmentRects:     rawOrNil(record.SegmentRectsJSON),
		InkPaths:         rawOrNil(record.InkPathsJSON),
		LineCoordinates:  rawOrNil(record.LineCoordinatesJSON),
		Vertices:         rawOrNil(record.VerticesJSON),
		Custom:           rawOrNil(record.CustomJSON),
		Author:           record.Author,
		CreatedAtSeconds: record.CreatedAtSeconds,
		UpdatedAtSeconds: record.UpdatedAtSeconds,
	}
}

func (record *Record) applyPatch(patch Patch) {
	if patch.PageIndex != nil {
		record.PageIndex = *patch.PageIndex
	}
	if patch.Color != nil {
		record.Color = *patch.Color
	}
	if patch.Opacity != nil {
		record.Opacity = *patch.Opacity
	}
	if patch.BlendMode != nil {
		record.BlendMode = string(*patch.BlendMode)
	}
	if patch.StrokeWidth != nil {
		record.StrokeWidth = *patch.StrokeWidth
	}
	if patch.Rect != nil {
		record.RectX = patch.Rect.X
		record.RectY = patch.Rect.Y
		record.RectWidth = patch.Rect.Width
		record.RectHeight = patch.Rect.Height
	}
	if patch.SegmentRects != nil {
		record.SegmentRectsJSON = string(patch.SegmentRects)
	}
	if patch.InkPaths != nil {
		record.InkPathsJSON = string(patch.InkPaths)
	}
	if patch.LineCoordinates != nil {
		record.LineCoordinatesJSON = string(patch.LineCoordinates)
	}
	if patch.Vertices != nil {
		record.VerticesJSON = string(patch.Vertices)
	}
	if patch.Custom != nil {
		record.CustomJSON = string(patch.Custom)
	}
	if patch.Author != nil {
		record.Author = *patch.Author
	}
}

func rawOrNil(value string) Payload {
	if value == "" {
		return nil
	}
	return Payload(value)
}
