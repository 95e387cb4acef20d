// Package svg validates, canonicalizes and parses ticket template SVG
// documents against a narrow allow-list of drawing primitives.
package svg

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"sort"
	"strings"

	"golang.org/x/net/html/charset"

	apperrors "github.com/ticketpress/ticketpress/internal/errors"
)

const svgNamespace = "http://www.w3.org/2000/svg"

// allowedElements is the full set of element names a template may contain.
// Anything outside this set is rejected, not stripped: a template that needs
// stripping is a template we do not trust.
var allowedElements = map[string]bool{
	"svg":            true,
	"g":              true,
	"defs":           true,
	"path":           true,
	"rect":           true,
	"circle":         true,
	"ellipse":        true,
	"line":           true,
	"polyline":       true,
	"polygon":        true,
	"title":          true,
	"desc":           true,
	"linearGradient": true,
	"radialGradient": true,
	"stop":           true,
}

// forbiddenElements get a specific rejection message; they are the constructs
// that can fetch external resources or execute script.
var forbiddenElements = map[string]bool{
	"image":         true,
	"use":           true,
	"script":        true,
	"foreignObject": true,
	"iframe":        true,
	"embed":         true,
	"object":        true,
	"animate":       true,
}

// Sanitize validates raw SVG markup against the allow-list and re-serializes
// passing documents into a canonical byte-stable form: sorted attributes,
// collapsed whitespace, self-closed empty elements, no comments or processing
// instructions. Semantically identical inputs canonicalize to equal bytes,
// which is what makes the content digest usable as a cache key.
//
// Rejections return an unsafe_content error and never a partial document.
func Sanitize(raw []byte) (string, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", apperrors.MalformedSVG("empty svg document")
	}

	decoder := xml.NewDecoder(bytes.NewReader(raw))
	decoder.CharsetReader = charset.NewReaderLabel

	var out strings.Builder
	depth := 0
	sawRoot := false

	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", apperrors.Wrapf(err, apperrors.ErrCodeMalformedSVG, "parse svg markup")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				if t.Name.Local != "svg" {
					return "", apperrors.MalformedSVGf("root element is <%s>, want <svg>", t.Name.Local)
				}
				sawRoot = true
			}
			if err := writeStartElement(&out, t, depth == 0); err != nil {
				return "", err
			}
			depth++
		case xml.EndElement:
			depth--
			out.WriteString("</")
			out.WriteString(t.Name.Local)
			out.WriteString(">")
		case xml.CharData:
			text := strings.TrimSpace(string(t))
			if text != "" {
				out.WriteString(escapeText(text))
			}
		case xml.Comment, xml.ProcInst, xml.Directive:
			// Dropped: none of these carry drawable content.
		}
	}

	if !sawRoot {
		return "", apperrors.MalformedSVG("no <svg> root element")
	}
	if depth != 0 {
		return "", apperrors.MalformedSVG("unbalanced svg markup")
	}

	return collapseEmptyElements(out.String()), nil
}

func writeStartElement(out *strings.Builder, el xml.StartElement, isRoot bool) error {
	name := el.Name.Local
	if forbiddenElements[name] {
		return apperrors.UnsafeContentf("forbidden element <%s>", name)
	}
	if !allowedElements[name] {
		return apperrors.UnsafeContentf("element <%s> is not on the allow-list", name)
	}

	attrs, err := sanitizeAttrs(name, el.Attr)
	if err != nil {
		return err
	}
	if isRoot {
		attrs = ensureNamespace(attrs)
	}

	out.WriteString("<")
	out.WriteString(name)
	for _, a := range attrs {
		out.WriteString(" ")
		out.WriteString(a.name)
		out.WriteString(`="`)
		out.WriteString(escapeAttr(a.value))
		out.WriteString(`"`)
	}
	out.WriteString(">")
	return nil
}

type canonicalAttr struct {
	name  string
	value string
}

// sanitizeAttrs applies the attribute rules and returns the surviving
// attributes in canonical (sorted) order. Event handlers and script-capable
// values reject the whole document; namespace declarations other than the
// default SVG namespace are dropped during canonicalization.
func sanitizeAttrs(element string, attrs []xml.Attr) ([]canonicalAttr, error) {
	var out []canonicalAttr
	for _, a := range attrs {
		local := a.Name.Local

		if strings.HasPrefix(strings.ToLower(local), "on") {
			return nil, apperrors.UnsafeContentf("event handler attribute %q on <%s>", local, element)
		}
		if containsScriptScheme(a.Value) {
			return nil, apperrors.UnsafeContentf("script-capable value in attribute %q on <%s>", local, element)
		}

		switch {
		case local == "href":
			if !safeHref(a.Value) {
				return nil, apperrors.UnsafeContentf("external href target on <%s>", element)
			}
			out = append(out, canonicalAttr{name: "href", value: strings.TrimSpace(a.Value)})
		case local == "style":
			if !safeStyle(a.Value) {
				return nil, apperrors.UnsafeContentf("external reference in style attribute on <%s>", element)
			}
			out = append(out, canonicalAttr{name: "style", value: canonicalStyle(a.Value)})
		case a.Name.Space == "xmlns" || local == "xmlns":
			// Namespace declarations are re-emitted once on the root.
		case a.Name.Space != "":
			// Foreign-namespace attributes carry no drawable meaning.
		default:
			out = append(out, canonicalAttr{name: local, value: strings.TrimSpace(a.Value)})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}

func ensureNamespace(attrs []canonicalAttr) []canonicalAttr {
	withNS := append([]canonicalAttr{{name: "xmlns", value: svgNamespace}}, attrs...)
	sort.Slice(withNS, func(i, j int) bool { return withNS[i].name < withNS[j].name })
	return withNS
}

// safeHref permits only same-document fragments and inline data URIs for
// image payloads. Everything else can resolve externally.
func safeHref(v string) bool {
	return strings.HasPrefix(strings.TrimSpace(strings.ToLower(v)), "#") || SafeImageValue(v)
}

// SafeImageValue reports whether v is an inline data:image URI, the only
// image reference form that cannot resolve outside the document. Spec
// validation applies the same policy to image watermark values.
func SafeImageValue(v string) bool {
	return strings.HasPrefix(strings.TrimSpace(strings.ToLower(v)), "data:image/")
}

func containsScriptScheme(v string) bool {
	compact := strings.ToLower(removeWhitespace(v))
	return strings.Contains(compact, "javascript:") || strings.Contains(compact, "vbscript:")
}

// safeStyle rejects style values that reference anything beyond the document:
// url(...) to non-fragment targets, CSS imports, expression().
func safeStyle(v string) bool {
	compact := strings.ToLower(removeWhitespace(v))
	if strings.Contains(compact, "expression(") || strings.Contains(compact, "@import") {
		return false
	}
	rest := compact
	for {
		i := strings.Index(rest, "url(")
		if i < 0 {
			return true
		}
		rest = rest[i+len("url("):]
		target := strings.TrimLeft(rest, `"'`)
		if !strings.HasPrefix(target, "#") {
			return false
		}
	}
}

func canonicalStyle(v string) string {
	parts := strings.Split(v, ";")
	var kept []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ";")
}

func removeWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '\f', '\v':
			return -1
		}
		return r
	}, s)
}

func escapeAttr(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}

func escapeText(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

// collapseEmptyElements rewrites <x ...></x> pairs into self-closed form so
// that inputs differing only in empty-element syntax canonicalize equally.
func collapseEmptyElements(s string) string {
	var out strings.Builder
	for {
		close := strings.Index(s, "></")
		if close < 0 {
			out.WriteString(s)
			return out.String()
		}
		open := strings.LastIndex(s[:close], "<")
		name := elementName(s[open+1 : close])
		end := close + len("></") + len(name) + 1
		if open >= 0 && end <= len(s) && s[close:end] == "></"+name+">" {
			out.WriteString(s[:close])
			out.WriteString("/>")
			s = s[end:]
			continue
		}
		out.WriteString(s[:close+1])
		s = s[close+1:]
	}
}

func elementName(tag string) string {
	if i := strings.IndexAny(tag, " \t\n"); i >= 0 {
		return tag[:i]
	}
	return tag
}
