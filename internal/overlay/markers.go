package overlay

import (
	"math"

	"github.com/cardioscan/backend/internal/storage/models"
)

type Placement string

const (
	PlacementAbove Placement = "above"
	PlacementBelow Placement = "below"
)

type MarkerState string

const (
	StateDefault MarkerState = "default"
	StateHovered MarkerState = "hovered"
	StateActive  MarkerState = "active"
)

const (
	ColorActive          = "#facc15"
	ColorClinical        = "#06b6d4"
	ColorClinicalHovered = "#67e8f9"
	ColorArtifact        = "#f97316"
	ColorArtifactHovered = "#fdba74"
)

// Rect is in percent of the image, origin top-left.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Marker is the drawable form of one annotation. Index refers back to the
// annotation list, so it survives skipped entries.
type Marker struct {
	Index          int                   `json:"index"`
	Label          string                `json:"label"`
	Description    string                `json:"description"`
	Category       models.Category       `json:"category"`
	Certainty      models.Certainty      `json:"certainty"`
	Kind           models.AnnotationType `json:"kind"`
	Box            models.BoundingBox    `json:"box"`
	Rect           Rect                  `json:"rect"`
	Center         Point                 `json:"center"`
	LabelPlacement Placement             `json:"labelPlacement"`
	State          MarkerState           `json:"state"`
	Color          string                `json:"color"`
}

// Map converts annotations to markers. Entries without a usable bounding
// box are skipped.
func Map(annotations []models.Annotation, active, hovered *int) []Marker {
	markers := make([]Marker, 0, len(annotations))
	for i, a := range annotations {
		box, ok := a.Bounds()
		if !ok {
			continue
		}
		box = normalizeBox(box)

		m := Marker{
			Index:       i,
			Label:       a.Label,
			Description: a.Description,
			Category:    a.Category,
			Certainty:   a.Certainty,
			Kind:        kindOf(a.Type),
			Box:         box,
			Rect: Rect{
				X: box.XMin * 100,
				Y: box.YMin * 100,
				W: (box.XMax - box.XMin) * 100,
				H: (box.YMax - box.YMin) * 100,
			},
			Center: Point{
				X: (box.XMin + box.XMax) / 2 * 100,
				Y: (box.YMin + box.YMax) / 2 * 100,
			},
			LabelPlacement: placement(box),
		}
		m.State = stateOf(i, active, hovered)
		m.Color = colorOf(m.State, a.Category)
		markers = append(markers, m)
	}
	return markers
}

func normalizeBox(b models.BoundingBox) models.BoundingBox {
	x0, x1 := clamp01(b.XMin), clamp01(b.XMax)
	y0, y1 := clamp01(b.YMin), clamp01(b.YMax)
	return models.BoundingBox{
		XMin: math.Min(x0, x1),
		XMax: math.Max(x0, x1),
		YMin: math.Min(y0, y1),
		YMax: math.Max(y0, y1),
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func kindOf(t models.AnnotationType) models.AnnotationType {
	switch t {
	case models.AnnotationPoint, models.AnnotationSegment:
		return t
	default:
		return models.AnnotationArea
	}
}

// placement keeps labels inside the image: markers in the lower half get
// their label above.
func placement(b models.BoundingBox) Placement {
	if b.YMin >= 0.5 {
		return PlacementAbove
	}
	return PlacementBelow
}

func stateOf(i int, active, hovered *int) MarkerState {
	switch {
	case active != nil && *active == i:
		return StateActive
	case hovered != nil && *hovered == i:
		return StateHovered
	default:
		return StateDefault
	}
}

func colorOf(state MarkerState, category models.Category) string {
	if state == StateActive {
		return ColorActive
	}
	artifact := category == models.CategoryArtifact
	switch {
	case state == StateHovered && artifact:
		return ColorArtifactHovered
	case state == StateHovered:
		return ColorClinicalHovered
	case artifact:
		return ColorArtifact
	default:
		return ColorClinical
	}
}

// Find returns the marker for annotation index i.
func Find(markers []Marker, i int) (Marker, bool) {
	for _, m := range markers {
		if m.Index == i {
			return m, true
		}
	}
	return Marker{}, false
}
