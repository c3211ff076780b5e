package domain

import (
	"encoding/json"
	"fmt"
)

// ShapeType enumerates the overlay shape kinds understood by viewers.
type ShapeType int

const (
	ShapeLine ShapeType = iota
	ShapeRect
	ShapeCircle
)

func (t ShapeType) String() string {
	switch t {
	case ShapeRect:
		return "rect"
	case ShapeCircle:
		return "circle"
	default:
		return "line"
	}
}

// TextElement is one positioned text label drawn over the video.
type TextElement struct {
	Content string `json:"content"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Color   string `json:"color"`
	Size    int    `json:"size"`
}

// Shape is one drawable overlay primitive. Coordinate fields are reused per
// type: a line runs (X1,Y1)-(X2,Y2) with stroke Width; a rect anchors at
// (X1,Y1) with X2/Y2 as width/height; a circle centers at (X1,Y1) with Radius.
type Shape struct {
	Type   ShapeType
	X1, Y1 int
	X2, Y2 int
	Radius int
	Color  string
	Width  int
	Fill   bool
}

// MarshalJSON emits the per-type wire layout viewers expect: lines carry
// x1/y1/x2/y2/width, rects x/y/w/h/fill, circles x/y/r/fill.
func (s Shape) MarshalJSON() ([]byte, error) {
	switch s.Type {
	case ShapeLine:
		return json.Marshal(struct {
			Type  string `json:"type"`
			X1    int    `json:"x1"`
			Y1    int    `json:"y1"`
			X2    int    `json:"x2"`
			Y2    int    `json:"y2"`
			Width int    `json:"width"`
			Color string `json:"color"`
		}{s.Type.String(), s.X1, s.Y1, s.X2, s.Y2, s.Width, s.Color})
	case ShapeRect:
		return json.Marshal(struct {
			Type  string `json:"type"`
			X     int    `json:"x"`
			Y     int    `json:"y"`
			W     int    `json:"w"`
			H     int    `json:"h"`
			Fill  bool   `json:"fill"`
			Color string `json:"color"`
		}{s.Type.String(), s.X1, s.Y1, s.X2, s.Y2, s.Fill, s.Color})
	case ShapeCircle:
		return json.Marshal(struct {
			Type  string `json:"type"`
			X     int    `json:"x"`
			Y     int    `json:"y"`
			R     int    `json:"r"`
			Fill  bool   `json:"fill"`
			Color string `json:"color"`
		}{s.Type.String(), s.X1, s.Y1, s.Radius, s.Fill, s.Color})
	default:
		return nil, fmt.Errorf("unknown shape type %d", s.Type)
	}
}

// Overlay is one complete overlay description pushed to viewers.
type Overlay struct {
	Text   []TextElement
	Shapes []Shape
}

// MarshalJSON always emits both arrays, never null, so viewers can index
// them without nil checks.
func (o Overlay) MarshalJSON() ([]byte, error) {
	text := o.Text
	if text == nil {
		text = []TextElement{}
	}
	shapes := o.Shapes
	if shapes == nil {
		shapes = []Shape{}
	}
	return json.Marshal(struct {
		Text   []TextElement `json:"text"`
		Shapes []Shape       `json:"shapes"`
	}{text, shapes})
}

// SampleOverlay returns a demo overlay: a HUD banner, crosshair lines, a
// target box and a status indicator. Useful for viewer bring-up before any
// real telemetry is wired in.
func SampleOverlay() *Overlay {
	return &Overlay{
		Text: []TextElement{
			{Content: "roverlink", X: 10, Y: 30, Color: "white", Size: 20},
			{Content: "Speed: 50%", X: 10, Y: 60, Color: "lime", Size: 16},
			{Content: "Battery: 85%", X: 10, Y: 85, Color: "cyan", Size: 16},
		},
		Shapes: []Shape{
			{Type: ShapeLine, X1: 640, Y1: 0, X2: 640, Y2: 720, Color: "red", Width: 2},
			{Type: ShapeLine, X1: 0, Y1: 360, X2: 1280, Y2: 360, Color: "red", Width: 2},
			{Type: ShapeRect, X1: 500, Y1: 250, X2: 100, Y2: 80, Color: "yellow"},
			{Type: ShapeCircle, X1: 1250, Y1: 30, Radius: 15, Color: "lime", Fill: true},
		},
	}
}
