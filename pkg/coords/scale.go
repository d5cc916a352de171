package coords

import (
	"math"

	"github.com/menta2k/vlm-locate/pkg/types"
)

// Scale maps a candidate onto original-image pixels, rounding half away from zero
// When transmitted and original sizes match the value is only rounded, never multiplied
func Scale(c types.Candidate, d types.ImageDescriptor) types.Detection {
	x, y := c.H, c.V
	switch c.Space {
	case types.SpaceRatio:
		x, y = x*float64(d.TransmittedWidth), y*float64(d.TransmittedHeight)
	case types.SpaceOriginalPixel:
		return types.Detection{
			ID:         c.ID,
			X:          clampInt(math.Round(x), d.OriginalWidth),
			Y:          clampInt(math.Round(y), d.OriginalHeight),
			Confidence: c.Confidence,
		}
	}
	return types.Detection{
		ID:         c.ID,
		X:          clampInt(scaleAxis(x, d.TransmittedWidth, d.OriginalWidth), d.OriginalWidth),
		Y:          clampInt(scaleAxis(y, d.TransmittedHeight, d.OriginalHeight), d.OriginalHeight),
		Confidence: c.Confidence,
	}
}

// ScaleAll maps every candidate, keeping order
func ScaleAll(cs []types.Candidate, d types.ImageDescriptor) []types.Detection {
	out := make([]types.Detection, 0, len(cs))
	for _, c := range cs {
		out = append(out, Scale(c, d))
	}
	return out
}

func scaleAxis(v float64, transmitted, original int) float64 {
	if transmitted == original || transmitted <= 0 {
		return math.Round(v)
	}
	return math.Round(v * float64(original) / float64(transmitted))
}

func clampInt(v float64, dim int) int {
	if v < 0 || dim <= 0 {
		return 0
	}
	if v > float64(dim-1) {
		return dim - 1
	}
	return int(v)
}
