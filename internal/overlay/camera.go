package overlay

import (
	"math"
	"time"
)

const (
	DefaultFocusScale = 3.0
	DefaultDuration   = 400 * time.Millisecond
)

// Viewport is the size of the container the image is fitted into.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Camera is a pan/zoom transform: content is scaled by Scale, then shifted
// by X and Y pixels.
type Camera struct {
	Scale float64 `json:"scale"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

func Fit() Camera {
	return Camera{Scale: 1}
}

// Focus centres the marker at the given scale, clamped so the image always
// covers the viewport.
func Focus(vp Viewport, m Marker, scale float64) Camera {
	if scale < 1 {
		scale = 1
	}
	cx := m.Center.X / 100 * vp.Width * scale
	cy := m.Center.Y / 100 * vp.Height * scale
	return Camera{
		Scale: scale,
		X:     clamp(vp.Width/2-cx, vp.Width-vp.Width*scale, 0),
		Y:     clamp(vp.Height/2-cy, vp.Height-vp.Height*scale, 0),
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

type Transition struct {
	From       Camera        `json:"from"`
	To         Camera        `json:"to"`
	Duration   time.Duration `json:"-"`
	DurationMs int64         `json:"durationMs"`
}

// At interpolates the camera t into the transition with an ease-out curve.
func (tr Transition) At(t time.Duration) Camera {
	if tr.Duration <= 0 || t >= tr.Duration {
		return tr.To
	}
	if t <= 0 {
		return tr.From
	}
	p := float64(t) / float64(tr.Duration)
	e := 1 - math.Pow(1-p, 3)
	return Camera{
		Scale: tr.From.Scale + (tr.To.Scale-tr.From.Scale)*e,
		X:     tr.From.X + (tr.To.X-tr.From.X)*e,
		Y:     tr.From.Y + (tr.To.Y-tr.From.Y)*e,
	}
}

// Follower moves the camera when the active annotation changes. Reselecting
// the same index does nothing.
type Follower struct {
	viewport Viewport
	scale    float64
	duration time.Duration

	camera Camera
	prev   *int
}

func NewFollower(vp Viewport, scale float64, duration time.Duration) *Follower {
	if scale <= 0 {
		scale = DefaultFocusScale
	}
	if duration <= 0 {
		duration = DefaultDuration
	}
	return &Follower{viewport: vp, scale: scale, duration: duration, camera: Fit()}
}

func (f *Follower) Camera() Camera {
	return f.camera
}

// Update returns the transition for a new active index, or false when the
// index is unchanged. An index without a drawable marker resets the view.
func (f *Follower) Update(active *int, markers []Marker) (Transition, bool) {
	if sameIndex(f.prev, active) {
		return Transition{}, false
	}
	f.prev = nil
	if active != nil {
		v := *active
		f.prev = &v
	}

	target := Fit()
	if active != nil {
		if m, ok := Find(markers, *active); ok {
			target = Focus(f.viewport, m, f.scale)
		}
	}

	tr := Transition{From: f.camera, To: target, Duration: f.duration, DurationMs: f.duration.Milliseconds()}
	f.camera = target
	return tr, true
}

func sameIndex(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
