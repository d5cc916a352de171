// Package response turns a locate result into a sentence for display or speech
package response

import (
	"fmt"
	"strings"

	perr "github.com/menta2k/vlm-locate/internal/errors"
	"github.com/menta2k/vlm-locate/pkg/types"
)

type Generator struct {
	// Verbose adds confidence and per-instance positions to found messages
	Verbose bool
}

func New(verbose bool) *Generator { return &Generator{Verbose: verbose} }

// Generate returns the user-facing message for r
func (g *Generator) Generate(r types.Result) string {
	obj := r.TargetObject
	if obj == "" {
		obj = "object"
	}
	switch r.Status {
	case types.StatusFound:
		return g.found(r, obj)
	case types.StatusNotFound:
		return fmt.Sprintf("Sorry, I cannot locate the %s.", obj)
	case types.StatusUnparsed:
		return fmt.Sprintf("I could not understand the result for the %s.", obj)
	case types.StatusNotIdentified:
		return "Sorry, I could not tell which object you want. Please rephrase, for example \"find the cup\"."
	default:
		return g.failed(r, obj)
	}
}

// failed words a failure by its error code; the provider is only named once a query was sent to it
func (g *Generator) failed(r types.Result, obj string) string {
	service := "the vision service"
	if r.Provider != "" {
		service = "the " + r.Provider + " vision service"
	}
	switch r.Code {
	case perr.ErrorCodeInvalidArgument.String():
		return fmt.Sprintf("Sorry, I could not use that image to look for the %s. Please send a larger or valid picture.", obj)
	case perr.ErrorCodeAuthenticationMissing.String():
		return fmt.Sprintf("Sorry, no API key is configured for %s.", service)
	case perr.ErrorCodeMalformedUpstreamResponse.String():
		return fmt.Sprintf("Sorry, %s sent back a response I could not read. Please try again.", service)
	case perr.ErrorCodeUnsupported.String():
		return fmt.Sprintf("Sorry, %s is not supported.", service)
	case perr.ErrorCodeProviderUnavailable.String():
		return fmt.Sprintf("Sorry, %s could not be reached. Please try again.", service)
	}
	return "Sorry, something went wrong while looking for the " + obj + "."
}

func (g *Generator) found(r types.Result, obj string) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("The %s is recognized, let me fetch it to you.", obj))

	w, h := r.Image.OriginalWidth, r.Image.OriginalHeight
	if r.Count == 1 && len(r.Detections) == 1 {
		d := r.Detections[0]
		parts = append(parts, fmt.Sprintf("It is %s.", Describe(d.X, d.Y, w, h)))
	} else if r.Count > 1 {
		parts = append(parts, fmt.Sprintf("I found %d of them.", r.Count))
		if g.Verbose {
			for _, d := range r.Detections {
				parts = append(parts, fmt.Sprintf("Number %d is %s.", d.ID, Describe(d.X, d.Y, w, h)))
			}
		}
	}
	if g.Verbose {
		if c := ConfidenceSummary(r.Detections); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, " ")
}

// Describe names the third of the image (x, y) falls in
func Describe(x, y, width, height int) string {
	if width <= 0 || height <= 0 {
		return "in the image"
	}
	fx, fy := float64(x)/float64(width), float64(y)/float64(height)

	hPos := "center"
	switch {
	case fx < 0.33:
		hPos = "left"
	case fx > 0.67:
		hPos = "right"
	}
	vPos := "middle"
	switch {
	case fy < 0.33:
		vPos = "top"
	case fy > 0.67:
		vPos = "bottom"
	}

	switch {
	case hPos == "center" && vPos == "middle":
		return "in the center"
	case hPos == "center":
		return "in the " + vPos
	case vPos == "middle":
		return "on the " + hPos
	default:
		return "in the " + vPos + " " + hPos
	}
}

// ConfidenceSummary words the average detection confidence
func ConfidenceSummary(dets []types.Detection) string {
	if len(dets) == 0 {
		return ""
	}
	var sum, top float64
	for _, d := range dets {
		sum += d.Confidence
		top = max(top, d.Confidence)
	}
	avg := sum / float64(len(dets))
	switch {
	case avg >= 0.8:
		return "Detection confidence is high."
	case avg >= 0.6:
		return "Detection confidence is moderate."
	case top >= 0.7:
		return "Some detections have good confidence."
	default:
		return "Detection confidence is low, the position may be approximate."
	}
}

// Table renders detections as a markdown table of centre points
func Table(dets []types.Detection) string {
	var b strings.Builder
	b.WriteString("| ID | H | V |\n|----|---|---|\n")
	for _, d := range dets {
		fmt.Fprintf(&b, "| %d | %d | %d |\n", d.ID, d.X, d.Y)
	}
	return b.String()
}
