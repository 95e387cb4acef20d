package svg

import (
	"encoding/xml"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"

	apperrors "github.com/ticketpress/ticketpress/internal/errors"
)

// ViewBox is the user-space coordinate system declared by the template root.
type ViewBox struct {
	MinX   float64
	MinY   float64
	Width  float64
	Height float64
}

// PathOp identifies one absolute drawing command. Relative commands and the
// shorthand forms (H, V, S, T) are normalized away during parsing.
type PathOp byte

const (
	OpMoveTo  PathOp = 'M'
	OpLineTo  PathOp = 'L'
	OpCubicTo PathOp = 'C'
	OpQuadTo  PathOp = 'Q'
	OpClose   PathOp = 'Z'
)

// PathCommand is one normalized command with absolute coordinates:
// M/L carry 2 values, Q carries 4, C carries 6, Z carries none.
type PathCommand struct {
	Op     PathOp
	Coords []float64
}

// Style is the drawing style resolved for one path, inherited through
// enclosing groups.
type Style struct {
	Fill        string
	Stroke      string
	StrokeWidth float64
}

// Path is one drawable, already flattened to absolute path commands.
// Basic shapes (rect, circle, line, polygon, ...) are converted to the
// equivalent path during parsing so downstream rendering has one case.
type Path struct {
	Commands []PathCommand
	Style    Style
}

// Document is a parsed ticket template.
type Document struct {
	ViewBox ViewBox
	Paths   []Path
}

// Parse builds a Document from sanitized SVG markup. The root viewBox is
// required: without it the template has no defined coordinate space and
// placement math cannot be trusted.
func Parse(markup string) (*Document, error) {
	decoder := xml.NewDecoder(strings.NewReader(markup))
	decoder.CharsetReader = charset.NewReaderLabel

	doc := &Document{}
	styles := []Style{{Fill: "black", StrokeWidth: 1}}
	sawViewBox := false
	depth := 0

	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrCodeMalformedSVG, "parse svg markup")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			style := inheritStyle(styles[len(styles)-1], t.Attr)
			styles = append(styles, style)

			if depth == 0 {
				if t.Name.Local != "svg" {
					return nil, apperrors.MalformedSVGf("root element is <%s>, want <svg>", t.Name.Local)
				}
				vb, err := parseViewBox(attrValue(t.Attr, "viewBox"))
				if err != nil {
					return nil, err
				}
				doc.ViewBox = vb
				sawViewBox = true
			}
			depth++

			cmds, err := elementCommands(t)
			if err != nil {
				return nil, err
			}
			if len(cmds) > 0 {
				doc.Paths = append(doc.Paths, Path{Commands: cmds, Style: style})
			}
		case xml.EndElement:
			styles = styles[:len(styles)-1]
			depth--
		}
	}

	if !sawViewBox {
		return nil, apperrors.MalformedSVG("no <svg> root element")
	}
	return doc, nil
}

func attrValue(attrs []xml.Attr, name string) string {
	for _, a := range attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func parseViewBox(v string) (ViewBox, error) {
	if strings.TrimSpace(v) == "" {
		return ViewBox{}, apperrors.MalformedSVG("missing viewBox on <svg> root")
	}
	nums, err := scanNumbers(v)
	if err != nil || len(nums) != 4 {
		return ViewBox{}, apperrors.MalformedSVGf("viewBox %q: want four numbers", v)
	}
	vb := ViewBox{MinX: nums[0], MinY: nums[1], Width: nums[2], Height: nums[3]}
	if vb.Width <= 0 || vb.Height <= 0 {
		return ViewBox{}, apperrors.MalformedSVGf("viewBox %q: width and height must be positive", v)
	}
	return vb, nil
}

func inheritStyle(parent Style, attrs []xml.Attr) Style {
	s := parent
	for _, a := range attrs {
		switch a.Name.Local {
		case "fill":
			s.Fill = strings.TrimSpace(a.Value)
		case "stroke":
			s.Stroke = strings.TrimSpace(a.Value)
		case "stroke-width":
			if w, err := strconv.ParseFloat(strings.TrimSpace(a.Value), 64); err == nil {
				s.StrokeWidth = w
			}
		case "style":
			applyStyleDecl(&s, a.Value)
		}
	}
	return s
}

func applyStyleDecl(s *Style, decl string) {
	for _, part := range strings.Split(decl, ";") {
		k, v, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		switch k {
		case "fill":
			s.Fill = v
		case "stroke":
			s.Stroke = v
		case "stroke-width":
			if w, err := strconv.ParseFloat(v, 64); err == nil {
				s.StrokeWidth = w
			}
		}
	}
}

// elementCommands converts a drawable element to normalized path commands.
// Container and metadata elements yield nothing.
func elementCommands(el xml.StartElement) ([]PathCommand, error) {
	switch el.Name.Local {
	case "path":
		return parsePathData(attrValue(el.Attr, "d"))
	case "rect":
		return rectCommands(el.Attr)
	case "circle":
		cx := attrFloat(el.Attr, "cx")
		cy := attrFloat(el.Attr, "cy")
		r := attrFloat(el.Attr, "r")
		return ellipseCommands(cx, cy, r, r), nil
	case "ellipse":
		cx := attrFloat(el.Attr, "cx")
		cy := attrFloat(el.Attr, "cy")
		return ellipseCommands(cx, cy, attrFloat(el.Attr, "rx"), attrFloat(el.Attr, "ry")), nil
	case "line":
		return []PathCommand{
			{Op: OpMoveTo, Coords: []float64{attrFloat(el.Attr, "x1"), attrFloat(el.Attr, "y1")}},
			{Op: OpLineTo, Coords: []float64{attrFloat(el.Attr, "x2"), attrFloat(el.Attr, "y2")}},
		}, nil
	case "polyline":
		return polyCommands(attrValue(el.Attr, "points"), false)
	case "polygon":
		return polyCommands(attrValue(el.Attr, "points"), true)
	default:
		return nil, nil
	}
}

func attrFloat(attrs []xml.Attr, name string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(attrValue(attrs, name)), 64)
	return v
}

func rectCommands(attrs []xml.Attr) ([]PathCommand, error) {
	x := attrFloat(attrs, "x")
	y := attrFloat(attrs, "y")
	w := attrFloat(attrs, "width")
	h := attrFloat(attrs, "height")
	if w <= 0 || h <= 0 {
		return nil, nil
	}
	return []PathCommand{
		{Op: OpMoveTo, Coords: []float64{x, y}},
		{Op: OpLineTo, Coords: []float64{x + w, y}},
		{Op: OpLineTo, Coords: []float64{x + w, y + h}},
		{Op: OpLineTo, Coords: []float64{x, y + h}},
		{Op: OpClose},
	}, nil
}

// ellipseKappa is the control-point offset factor for approximating a
// quarter ellipse with one cubic Bezier.
const ellipseKappa = 0.5522847498307936

func ellipseCommands(cx, cy, rx, ry float64) []PathCommand {
	if rx <= 0 || ry <= 0 {
		return nil
	}
	ox := rx * ellipseKappa
	oy := ry * ellipseKappa
	return []PathCommand{
		{Op: OpMoveTo, Coords: []float64{cx + rx, cy}},
		{Op: OpCubicTo, Coords: []float64{cx + rx, cy + oy, cx + ox, cy + ry, cx, cy + ry}},
		{Op: OpCubicTo, Coords: []float64{cx - ox, cy + ry, cx - rx, cy + oy, cx - rx, cy}},
		{Op: OpCubicTo, Coords: []float64{cx - rx, cy - oy, cx - ox, cy - ry, cx, cy - ry}},
		{Op: OpCubicTo, Coords: []float64{cx + ox, cy - ry, cx + rx, cy - oy, cx + rx, cy}},
		{Op: OpClose},
	}
}

func polyCommands(points string, closed bool) ([]PathCommand, error) {
	nums, err := scanNumbers(points)
	if err != nil {
		return nil, apperrors.MalformedSVGf("points %q: %v", points, err)
	}
	if len(nums) < 4 || len(nums)%2 != 0 {
		return nil, apperrors.MalformedSVGf("points %q: want an even count of at least four numbers", points)
	}
	cmds := []PathCommand{{Op: OpMoveTo, Coords: []float64{nums[0], nums[1]}}}
	for i := 2; i < len(nums); i += 2 {
		cmds = append(cmds, PathCommand{Op: OpLineTo, Coords: []float64{nums[i], nums[i+1]}})
	}
	if closed {
		cmds = append(cmds, PathCommand{Op: OpClose})
	}
	return cmds, nil
}

// pathScanner walks SVG path data, normalizing relative commands and the
// H/V/S/T shorthands into absolute M/L/C/Q/Z.
type pathScanner struct {
	cmds []PathCommand

	cur     point
	start   point
	lastOp  byte
	lastCtl point
}

type point struct{ x, y float64 }

// parsePathData parses a path "d" attribute. Arc commands are not part of
// the template contract and reject the document.
func parsePathData(d string) ([]PathCommand, error) {
	if strings.TrimSpace(d) == "" {
		return nil, nil
	}
	s := &pathScanner{}

	rest := d
	for {
		rest = strings.TrimLeft(rest, " \t\r\n,")
		if rest == "" {
			break
		}
		op := rest[0]
		if !isPathOp(op) {
			return nil, apperrors.MalformedSVGf("path data: unexpected %q", string(op))
		}
		rest = rest[1:]

		var nums []float64
		var err error
		nums, rest, err = scanLeadingNumbers(rest)
		if err != nil {
			return nil, apperrors.MalformedSVGf("path data after %q: %v", string(op), err)
		}
		if err := s.apply(op, nums); err != nil {
			return nil, err
		}
	}
	return s.cmds, nil
}

func isPathOp(b byte) bool {
	switch b {
	case 'M', 'm', 'L', 'l', 'H', 'h', 'V', 'v', 'C', 'c', 'S', 's', 'Q', 'q', 'T', 't', 'Z', 'z', 'A', 'a':
		return true
	}
	return false
}

func (s *pathScanner) apply(op byte, nums []float64) error {
	rel := op >= 'a'
	switch op {
	case 'A', 'a':
		return apperrors.MalformedSVG("path data: arc commands are not supported")
	case 'Z', 'z':
		if len(nums) != 0 {
			return apperrors.MalformedSVG("path data: Z takes no arguments")
		}
		s.cmds = append(s.cmds, PathCommand{Op: OpClose})
		s.cur = s.start
		s.lastOp = 'Z'
		return nil
	case 'M', 'm':
		if len(nums) < 2 || len(nums)%2 != 0 {
			return apperrors.MalformedSVG("path data: M needs coordinate pairs")
		}
		for i := 0; i < len(nums); i += 2 {
			p := s.abs(nums[i], nums[i+1], rel)
			if i == 0 {
				s.cmds = append(s.cmds, PathCommand{Op: OpMoveTo, Coords: []float64{p.x, p.y}})
				s.start = p
			} else {
				// Extra pairs after a moveto are implicit linetos.
				s.cmds = append(s.cmds, PathCommand{Op: OpLineTo, Coords: []float64{p.x, p.y}})
			}
			s.cur = p
		}
		s.lastOp = 'L'
		return nil
	case 'L', 'l':
		if len(nums) < 2 || len(nums)%2 != 0 {
			return apperrors.MalformedSVG("path data: L needs coordinate pairs")
		}
		for i := 0; i < len(nums); i += 2 {
			s.lineTo(s.abs(nums[i], nums[i+1], rel))
		}
		return nil
	case 'H', 'h':
		if len(nums) == 0 {
			return apperrors.MalformedSVG("path data: H needs at least one value")
		}
		for _, n := range nums {
			x := n
			if rel {
				x += s.cur.x
			}
			s.lineTo(point{x, s.cur.y})
		}
		return nil
	case 'V', 'v':
		if len(nums) == 0 {
			return apperrors.MalformedSVG("path data: V needs at least one value")
		}
		for _, n := range nums {
			y := n
			if rel {
				y += s.cur.y
			}
			s.lineTo(point{s.cur.x, y})
		}
		return nil
	case 'C', 'c':
		if len(nums) < 6 || len(nums)%6 != 0 {
			return apperrors.MalformedSVG("path data: C needs coordinate triples")
		}
		for i := 0; i < len(nums); i += 6 {
			c1 := s.abs(nums[i], nums[i+1], rel)
			c2 := s.abs(nums[i+2], nums[i+3], rel)
			end := s.abs(nums[i+4], nums[i+5], rel)
			s.cubicTo(c1, c2, end)
		}
		return nil
	case 'S', 's':
		if len(nums) < 4 || len(nums)%4 != 0 {
			return apperrors.MalformedSVG("path data: S needs coordinate pairs of control and end points")
		}
		for i := 0; i < len(nums); i += 4 {
			c1 := s.reflectControl('C')
			c2 := s.abs(nums[i], nums[i+1], rel)
			end := s.abs(nums[i+2], nums[i+3], rel)
			s.cubicTo(c1, c2, end)
		}
		return nil
	case 'Q', 'q':
		if len(nums) < 4 || len(nums)%4 != 0 {
			return apperrors.MalformedSVG("path data: Q needs control and end point pairs")
		}
		for i := 0; i < len(nums); i += 4 {
			ctl := s.abs(nums[i], nums[i+1], rel)
			end := s.abs(nums[i+2], nums[i+3], rel)
			s.quadTo(ctl, end)
		}
		return nil
	case 'T', 't':
		if len(nums) < 2 || len(nums)%2 != 0 {
			return apperrors.MalformedSVG("path data: T needs coordinate pairs")
		}
		for i := 0; i < len(nums); i += 2 {
			ctl := s.reflectControl('Q')
			end := s.abs(nums[i], nums[i+1], rel)
			s.quadTo(ctl, end)
		}
		return nil
	}
	return apperrors.MalformedSVGf("path data: unknown command %q", string(op))
}

func (s *pathScanner) abs(x, y float64, rel bool) point {
	if rel {
		return point{s.cur.x + x, s.cur.y + y}
	}
	return point{x, y}
}

func (s *pathScanner) lineTo(p point) {
	s.cmds = append(s.cmds, PathCommand{Op: OpLineTo, Coords: []float64{p.x, p.y}})
	s.cur = p
	s.lastOp = 'L'
}

func (s *pathScanner) cubicTo(c1, c2, end point) {
	s.cmds = append(s.cmds, PathCommand{Op: OpCubicTo, Coords: []float64{c1.x, c1.y, c2.x, c2.y, end.x, end.y}})
	s.cur = end
	s.lastCtl = c2
	s.lastOp = 'C'
}

func (s *pathScanner) quadTo(ctl, end point) {
	s.cmds = append(s.cmds, PathCommand{Op: OpQuadTo, Coords: []float64{ctl.x, ctl.y, end.x, end.y}})
	s.cur = end
	s.lastCtl = ctl
	s.lastOp = 'Q'
}

// reflectControl gives the implicit first control point for S and T: the
// previous command's last control point reflected about the current point,
// or the current point itself when the previous command was a different kind.
func (s *pathScanner) reflectControl(kind byte) point {
	if s.lastOp != kind {
		return s.cur
	}
	return point{2*s.cur.x - s.lastCtl.x, 2*s.cur.y - s.lastCtl.y}
}

// scanNumbers parses a whitespace- or comma-separated number list, the
// format shared by viewBox and polygon points.
func scanNumbers(s string) ([]float64, error) {
	var out []float64
	rest := s
	for {
		rest = strings.TrimLeft(rest, " \t\r\n,")
		if rest == "" {
			return out, nil
		}
		n, next, err := scanNumber(rest)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
		rest = next
	}
}

// scanLeadingNumbers consumes numbers until the next path command letter.
func scanLeadingNumbers(s string) ([]float64, string, error) {
	var out []float64
	rest := s
	for {
		rest = strings.TrimLeft(rest, " \t\r\n,")
		if rest == "" || isPathOp(rest[0]) {
			return out, rest, nil
		}
		n, next, err := scanNumber(rest)
		if err != nil {
			return nil, "", err
		}
		out = append(out, n)
		rest = next
	}
}

func scanNumber(s string) (float64, string, error) {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := false
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
		digits = true
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
			digits = true
		}
	}
	if digits && i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		expDigits := false
		for j < len(s) && s[j] >= '0' && s[j] <= '9' {
			j++
			expDigits = true
		}
		if expDigits {
			i = j
		}
	}
	if !digits {
		return 0, "", errors.New("invalid number " + strconv.Quote(truncate(s, 12)))
	}
	n, err := strconv.ParseFloat(s[:i], 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, "", errors.New("invalid number " + strconv.Quote(s[:i]))
	}
	return n, s[i:], nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
