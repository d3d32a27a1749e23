package overlay

import (
	"bytes"
	"fmt"
	"html"
	"text/template"

	"github.com/cardioscan/backend/internal/storage/models"
	"github.com/cardioscan/backend/pkg/datauri"
)

// Fallback canvas when the image size is unknown (HEIC previews).
const (
	fallbackWidth  = 1600
	fallbackHeight = 900
)

var svgTemplate = template.Must(template.New("overlay").Funcs(template.FuncMap{
	"esc": html.EscapeString,
	"f":   func(v float64) string { return fmt.Sprintf("%.2f", v) },
}).Parse(`<svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink" width="{{.Width}}" height="{{.Height}}" viewBox="0 0 {{.Width}} {{.Height}}">
{{- if .Image}}
<image href="{{esc .Image}}" x="0" y="0" width="{{.Width}}" height="{{.Height}}" preserveAspectRatio="none"/>
{{- end}}
{{- range .Shapes}}
<g id="annotation-marker-{{.Index}}" class="marker {{.Kind}} {{.State}}" stroke="{{.Color}}" fill="none" stroke-width="{{.Stroke}}">
{{- if eq .Kind "point"}}
<line x1="{{f .CX}}" y1="{{f .Y0}}" x2="{{f .CX}}" y2="{{f .Y1}}"/>
<line x1="{{f .X0}}" y1="{{f .CY}}" x2="{{f .X1}}" y2="{{f .CY}}"/>
{{- else if eq .Kind "segment"}}
<line x1="{{f .X0}}" y1="{{f .CY}}" x2="{{f .X1}}" y2="{{f .CY}}"/>
<line x1="{{f .X0}}" y1="{{f .BracketTop}}" x2="{{f .X0}}" y2="{{f .BracketBottom}}"/>
<line x1="{{f .X1}}" y1="{{f .BracketTop}}" x2="{{f .X1}}" y2="{{f .BracketBottom}}"/>
{{- else}}
<rect x="{{f .X0}}" y="{{f .Y0}}" width="{{f .W}}" height="{{f .H}}"{{if .Dashed}} stroke-dasharray="8 4"{{end}}/>
{{- end}}
<text x="{{f .CX}}" y="{{f .LabelY}}" fill="{{.Color}}" stroke="none" text-anchor="middle" font-family="sans-serif" font-size="{{f .FontSize}}">{{esc .Label}}</text>
</g>
{{- end}}
</svg>
`))

type svgShape struct {
	Index         int
	Kind          models.AnnotationType
	State         MarkerState
	Color         string
	Label         string
	Stroke        float64
	Dashed        bool
	X0, Y0        float64
	X1, Y1        float64
	W, H          float64
	CX, CY        float64
	BracketTop    float64
	BracketBottom float64
	LabelY        float64
	FontSize      float64
}

type svgData struct {
	Width, Height int
	Image         string
	Shapes        []svgShape
}

// RenderSVG draws the image with its markers as a standalone SVG. Only
// base64 image data URIs are embedded; anything else is left out.
func RenderSVG(imageURI string, width, height int, markers []Marker) ([]byte, error) {
	if width <= 0 || height <= 0 {
		width, height = fallbackWidth, fallbackHeight
	}
	data := svgData{Width: width, Height: height}
	if _, err := datauri.ParseImage(imageURI); err == nil {
		data.Image = imageURI
	}

	w, h := float64(width), float64(height)
	unit := h / 100
	for _, m := range markers {
		s := svgShape{
			Index:    m.Index,
			Kind:     m.Kind,
			State:    m.State,
			Color:    m.Color,
			Label:    m.Label,
			Stroke:   unit * 0.3,
			Dashed:   m.Category == models.CategoryArtifact && m.State != StateActive,
			X0:       m.Box.XMin * w,
			Y0:       m.Box.YMin * h,
			X1:       m.Box.XMax * w,
			Y1:       m.Box.YMax * h,
			CX:       m.Center.X / 100 * w,
			CY:       m.Center.Y / 100 * h,
			FontSize: unit * 2.5,
		}
		s.W, s.H = s.X1-s.X0, s.Y1-s.Y0
		s.BracketTop, s.BracketBottom = s.CY-unit, s.CY+unit
		if m.State == StateActive {
			s.Stroke = unit * 0.6
		}
		if m.Kind == models.AnnotationPoint {
			// Fixed-size crosshair around the centre.
			s.X0, s.X1 = s.CX-unit, s.CX+unit
			s.Y0, s.Y1 = s.CY-unit, s.CY+unit
		}
		if m.LabelPlacement == PlacementAbove {
			s.LabelY = s.Y0 - unit
		} else {
			s.LabelY = s.Y1 + unit*3
		}
		data.Shapes = append(data.Shapes, s)
	}

	var buf bytes.Buffer
	if err := svgTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render overlay: %w", err)
	}
	return buf.Bytes(), nil
}
