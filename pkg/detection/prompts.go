package detection

import (
	"fmt"
	"strings"
)

// Style selects the answer format a prompt asks for
type Style string

const (
	// StyleTable asks for an H | V | ID table of centre points
	StyleTable Style = "table"
	// StyleBBox asks for [x1, y1, x2, y2] boxes, which small local models follow more reliably
	StyleBBox Style = "bbox"
)

// NotFoundPhrase is what every prompt asks the model to answer when nothing matches
const NotFoundPhrase = "no object found"

// SimpleTestPrompt checks that a model can see images at all
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// ParseStyle maps a config value to a Style, defaulting to the table prompt
func ParseStyle(s string) Style {
	if Style(strings.ToLower(strings.TrimSpace(s))) == StyleBBox {
		return StyleBBox
	}
	return StyleTable
}

// TablePrompt asks for one row per instance with centre coordinates in the transmitted image
func TablePrompt(object string, width, height int) string {
	return fmt.Sprintf(`Read the image provided, which has been resized to a resolution of %dx%d pixels, and locate every instance of '%s'.

Summarize the centre coordinates in a concise markdown table with columns 'H', 'V' and 'ID':
| H | V | ID |
|---|---|----|
| <horizontal pixel> | <vertical pixel> | 1 |

RULES
- H is measured from the left edge (0 to %d), V from the top edge (0 to %d).
- Use pixel values of the %dx%d image, not fractions.
- One row per instance, IDs starting at 1.
- If no object is found, return a table with H, V and ID values of 0, 0, 0 and say "%s".`,
		width, height, object, width, height, width, height, NotFoundPhrase)
}

// BBoxPrompt asks for bounding boxes, one per line
func BBoxPrompt(object string, width, height int) string {
	return fmt.Sprintf(`Look at this %dx%d pixel image and find all '%s' objects.

For each %s you find, write one line:
Object: %s
Coordinates: [x1, y1, x2, y2]

x1, y1 is the top-left corner and x2, y2 the bottom-right corner, in pixels.
If there is no %s in the image, answer exactly "%s".`,
		width, height, object, object, object, object, NotFoundPhrase)
}

// BuildPrompt renders the prompt for style
func BuildPrompt(style Style, object string, width, height int) string {
	if style == StyleBBox {
		return BBoxPrompt(object, width, height)
	}
	return TablePrompt(object, width, height)
}
