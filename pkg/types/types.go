package types

import (
	"golang.org/x/text/language"
)

// Command is the user's request as text, tagged with the language it was written in
type Command struct {
	Text     string       `json:"text"`
	Language language.Tag `json:"language"`
}

// TargetObject is the normalized English noun phrase naming what to find
type TargetObject struct {
	Name     string `json:"name"`
	HasColor bool   `json:"has_color,omitempty"`
	HasSize  bool   `json:"has_size,omitempty"`
}

// ImageDescriptor carries the original size and the size actually sent to the provider
type ImageDescriptor struct {
	OriginalWidth     int `json:"original_width"`
	OriginalHeight    int `json:"original_height"`
	TransmittedWidth  int `json:"transmitted_width"`
	TransmittedHeight int `json:"transmitted_height"`
}

// Scaled reports whether the transmitted image differs from the original
func (d ImageDescriptor) Scaled() bool {
	return d.OriginalWidth != d.TransmittedWidth || d.OriginalHeight != d.TransmittedHeight
}

// CoordinateSpace says how a candidate's H and V are expressed
type CoordinateSpace int

const (
	// SpaceTransmittedPixel is pixels in the image the provider saw
	SpaceTransmittedPixel CoordinateSpace = iota
	// SpaceRatio is a fraction of transmitted width/height
	SpaceRatio
	// SpaceOriginalPixel is pixels in the original image
	SpaceOriginalPixel
)

func (s CoordinateSpace) String() string {
	switch s {
	case SpaceRatio:
		return "ratio"
	case SpaceOriginalPixel:
		return "original_pixel"
	default:
		return "transmitted_pixel"
	}
}

// MarshalText lets spaces appear by name in JSON
func (s CoordinateSpace) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Shape names the response format a candidate was read from
type Shape string

const (
	ShapeTable       Shape = "table"
	ShapeBracket     Shape = "bracket"
	ShapeParen       Shape = "paren"
	ShapeLabeled     Shape = "labeled"
	ShapeDescriptive Shape = "descriptive"
)

// Candidate is one parsed, not yet normalized detection
// Space says how H and V are expressed; Origin keeps the space the model answered in
type Candidate struct {
	ID         int             `json:"id"`
	H          float64         `json:"h"`
	V          float64         `json:"v"`
	Space      CoordinateSpace `json:"space"`
	Origin     CoordinateSpace `json:"origin"`
	Shape      Shape           `json:"shape"`
	Confidence float64         `json:"confidence"`
	Clamped    bool            `json:"clamped,omitempty"`
}

// Detection is a candidate normalized into original-image pixels
type Detection struct {
	ID         int     `json:"id"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Confidence float64 `json:"confidence,omitempty"`
}

// ParseStatus distinguishes a parsed answer from a declared absence and from unreadable text
type ParseStatus int

const (
	ParseUnparsed ParseStatus = iota
	ParseFound
	ParseNotFound
)

func (s ParseStatus) String() string {
	switch s {
	case ParseFound:
		return "found"
	case ParseNotFound:
		return "not_found"
	default:
		return "unparsed"
	}
}

// ParseOutcome is what the coordinate parser returns for one response
type ParseOutcome struct {
	Status     ParseStatus `json:"status"`
	Shape      Shape       `json:"shape,omitempty"`
	Candidates []Candidate `json:"candidates"`
	Dropped    int         `json:"dropped,omitempty"`
}

// Status is the terminal state of one query
type Status string

const (
	StatusFound         Status = "found"
	StatusNotFound      Status = "not_found"
	StatusUnparsed      Status = "unparsed"
	StatusFailed        Status = "failed"
	StatusNotIdentified Status = "object_not_identified"
)

// Result is the structured outcome of one query
type Result struct {
	QueryID      string          `json:"query_id,omitempty"`
	Found        bool            `json:"found"`
	Count        int             `json:"count"`
	Detections   []Detection     `json:"detections"`
	TargetObject string          `json:"target_object"`
	Status       Status          `json:"status"`
	Code         string          `json:"code,omitempty"`
	Provider     string          `json:"provider,omitempty"`
	Command      Command         `json:"command"`
	Image        ImageDescriptor `json:"image"`
	RawResponse  string          `json:"raw_response,omitempty"`
	Message      string          `json:"message,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// VisionRequest is what a provider client needs for one call
type VisionRequest struct {
	Prompt      string
	Image       []byte
	MIME        string
	Target      string
	Width       int
	Height      int
	Temperature float64
	MaxTokens   int
}
