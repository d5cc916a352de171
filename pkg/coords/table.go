package coords

import (
	"regexp"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"

	"github.com/menta2k/vlm-locate/pkg/types"
)

var separatorCell = regexp.MustCompile(`^:?-+:?$`)

// parenthetical drops unit hints such as "H (px)" before header matching
var parenthetical = regexp.MustCompile(`\(.*?\)`)

var (
	hKeys = keySet("h", "x", "horiz", "hcoord", "hcoordinate", "hpos", "hposition", "centerh", "centreh",
		"centerx", "centrex", "cx", "xcoord", "xcoordinate", "xcenter", "xcentre", "xpos", "xposition",
		"水平", "横坐标", "水平坐标")
	vKeys = keySet("v", "y", "vert", "vcoord", "vcoordinate", "vpos", "vposition", "centerv", "centrev",
		"centery", "centrey", "cy", "ycoord", "ycoordinate", "ycenter", "ycentre", "ypos", "yposition",
		"垂直", "纵坐标", "垂直坐标")
	idKeys = keySet("id", "#", "no", "num", "number", "index", "idx", "objectid", "obj", "object#",
		"instance", "编号", "序号")
)

func keySet(keys ...string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}

var folderPool = sync.Pool{
	New: func() any {
		c := cases.Fold()
		return &c
	},
}

// headerKey folds case and width and keeps only letters, digits and '#'
func headerKey(cell string) string {
	c := folderPool.Get().(*cases.Caser)
	defer folderPool.Put(c)

	s := c.String(parenthetical.ReplaceAllString(cell, ""))
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '#' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

type header struct {
	h, v, id int
	n        int
}

func detectHeader(cells []string) (header, bool) {
	hdr := header{h: -1, v: -1, id: -1, n: len(cells)}
	for i, cell := range cells {
		if _, numeric := parseNumber(cell); numeric {
			return header{}, false
		}
		k := headerKey(cell)
		switch {
		case hdr.h < 0 && (hKeys[k] || strings.HasPrefix(k, "horizontal")):
			hdr.h = i
		case hdr.v < 0 && (vKeys[k] || strings.HasPrefix(k, "vertical")):
			hdr.v = i
		case hdr.id < 0 && idKeys[k]:
			hdr.id = i
		}
	}
	return hdr, hdr.h >= 0 && hdr.v >= 0
}

func splitRow(line string) ([]string, bool) {
	line = strings.TrimSpace(line)
	if !strings.Contains(line, "|") {
		return nil, false
	}
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	cells := strings.Split(line, "|")
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells, true
}

func isSeparator(cells []string) bool {
	for _, c := range cells {
		if c != "" && !separatorCell.MatchString(strings.ReplaceAll(c, " ", "")) {
			return false
		}
	}
	return true
}

// parseTable reads H/V/ID rows from pipe tables
// A headerless row is read as H | V | ID. A row whose H, V and explicit ID are all 0 is the
// "nothing found" sentinel and is counted instead of returned.
func (p *Parser) parseTable(s string) (rows []raw, sentinels int) {
	var hdr *header
	for _, line := range strings.Split(s, "\n") {
		cells, ok := splitRow(line)
		if !ok || isSeparator(cells) {
			continue
		}
		if h, ok := detectHeader(cells); ok {
			hdr = &h
			continue
		}

		hi, vi, idi := 0, 1, 2
		if hdr != nil {
			if len(cells) != hdr.n {
				continue
			}
			hi, vi, idi = hdr.h, hdr.v, hdr.id
		} else if len(cells) < 2 {
			continue
		}

		h, okH := parseNumber(cells[hi])
		v, okV := parseNumber(cells[vi])
		if !okH || !okV {
			continue
		}
		id, hasID := 0, false
		if idi >= 0 && idi < len(cells) {
			if f, ok := parseNumber(cells[idi]); ok && f == float64(int(f)) {
				id, hasID = int(f), true
			}
		}
		if hasID && id == 0 && h == 0 && v == 0 {
			sentinels++
			continue
		}
		if !hasID {
			id = len(rows) + 1
		}
		rows = append(rows, raw{
			id:         id,
			h:          h,
			v:          v,
			space:      p.Classify(h, v),
			shape:      types.ShapeTable,
			confidence: 0.9,
		})
	}
	return rows, sentinels
}
