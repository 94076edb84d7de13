// Package pdf typesets extracted question and response text into paginated
// documents honoring the layout the user picked on the settings form.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/pavelanni/essayexport/internal/i18n"
	"github.com/pavelanni/essayexport/internal/options"
)

// One typographic point in millimeters.
const ptToMm = 25.4 / 72

// Base ratio between line height and font size at single spacing, chosen
// empirically for readable output across the supported fonts.
const lineHeightRatio = 1.25

// Layout carries the resolved page geometry and typography for one export.
type Layout struct {
	Page                                             options.PageFormat
	MarginLeft, MarginRight, MarginTop, MarginBottom float64 // mm
	LineSpacing                                      float64
	Font                                             options.FontFamily
	FontSize                                         float64 // pt
	Footer                                           bool
	FixRemFontSize                                   bool
	HTMLSource                                       bool
}

// LayoutFromOptions maps the validated export options onto a Layout.
func LayoutFromOptions(o options.Options) Layout {
	return Layout{
		Page:           o.Page,
		MarginLeft:     float64(o.MarginLeft),
		MarginRight:    float64(o.MarginRight),
		MarginTop:      float64(o.MarginTop),
		MarginBottom:   float64(o.MarginBottom),
		LineSpacing:    o.LineSpacing,
		Font:           o.Font,
		FontSize:       float64(o.FontSize),
		Footer:         o.IncludeFooter,
		FixRemFontSize: o.FixRemFontSize,
		HTMLSource:     o.Source == options.SourceHTML,
	}
}

// Renderer produces one document per call with a fixed layout.
type Renderer struct {
	layout Layout
}

func New(layout Layout) *Renderer {
	return &Renderer{layout: layout}
}

// Render typesets text into a single paginated document with a header made
// of title and subtitle and, when requested, a running footer with the page
// number.
func (r *Renderer) Render(ctx context.Context, text, title, subtitle, author string) ([]byte, error) {
	l := r.layout
	doc := fpdf.New("P", "mm", pageSize(l.Page), "")
	doc.SetTitle(title, true)
	doc.SetAuthor(author, true)

	tr := doc.UnicodeTranslatorFromDescriptor("")
	family := fontName(l.Font)
	fontMm := l.FontSize * ptToMm
	lineHt := l.LineSpacing * lineHeightRatio * fontMm
	pageW, _ := doc.GetPageSize()

	// The header region starts at the configured top margin; the body top
	// margin adds the header block plus one spaced line, so the text never
	// touches the header rule.
	subtitleMm := (l.FontSize - 2) * ptToMm
	headerBlock := fontMm*lineHeightRatio + subtitleMm*lineHeightRatio + 2
	bodyTop := l.MarginTop + headerBlock + l.LineSpacing*fontMm

	doc.SetHeaderFuncMode(func() {
		doc.SetY(l.MarginTop)
		doc.SetFont(family, "B", l.FontSize)
		doc.CellFormat(0, fontMm*lineHeightRatio, tr(title), "", 1, "L", false, 0, "")
		doc.SetFont(family, "I", l.FontSize-2)
		doc.CellFormat(0, subtitleMm*lineHeightRatio, tr(subtitle), "", 1, "L", false, 0, "")
		y := doc.GetY() + 1
		doc.SetLineWidth(0.2)
		doc.Line(l.MarginLeft, y, pageW-l.MarginRight, y)
	}, true)

	if l.Footer {
		doc.SetFooterFunc(func() {
			doc.SetY(-15)
			doc.SetFont(family, "", 0.8*l.FontSize)
			// Use the concrete page number rather than the substitution
			// alias: the alias is replaced after width calculation and
			// ends up badly centered.
			label := i18n.Td(ctx, "PageNumber", map[string]any{"Page": doc.PageNo()})
			doc.CellFormat(0, 10, tr(label), "", 0, "C", false, 0, "")
		})
	}

	doc.SetMargins(l.MarginLeft, bodyTop, l.MarginRight)
	doc.SetAutoPageBreak(true, l.MarginBottom)
	doc.AddPage()
	doc.SetFont(family, "", l.FontSize)

	if l.HTMLSource {
		prepared := r.prepare(ctx, text)
		writer := doc.HTMLBasicNew()
		writer.Write(lineHt, tr(prepared))
	} else {
		doc.MultiCell(0, lineHt, tr(text), "", "L", false)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("render document: %w", err)
	}
	return buf.Bytes(), nil
}

// prepare reduces rich-text markup to the subset the layout engine renders
// reliably. Images whose backing resource cannot be embedded become a
// placeholder token instead of failing the whole document.
func (r *Renderer) prepare(ctx context.Context, s string) string {
	// Raw non-breaking-space bytes corrupt the layout; the entity form
	// survives the markup pass and is decoded at the end.
	s = strings.ReplaceAll(s, " ", "&nbsp;")
	if r.layout.FixRemFontSize {
		s = FixRemFontSize(s)
	}
	s = imgRe.ReplaceAllString(s, i18n.T(ctx, "MissingImage"))
	s = toBasicHTML(s)
	return html.UnescapeString(s)
}

var (
	imgRe      = regexp.MustCompile(`(?i)<img\b[^>]*>`)
	anyTagRe   = regexp.MustCompile(`<[^>]*>`)
	keepTagRe  = regexp.MustCompile(`(?i)^</?(b|strong|i|em|u|br|center|a)\b[^>]*>$`)
	blockEndRe = regexp.MustCompile(`(?i)^</(p|div|h[1-6]|li|ul|ol|table|tr|blockquote)>$`)
)

// toBasicHTML keeps the inline tags the layout engine understands, turns
// block-element boundaries into line breaks and drops everything else.
func toBasicHTML(s string) string {
	s = anyTagRe.ReplaceAllStringFunc(s, func(tag string) string {
		switch {
		case keepTagRe.MatchString(tag):
			return normalizeTag(tag)
		case blockEndRe.MatchString(tag):
			return "<br>"
		default:
			return ""
		}
	})
	return s
}

// normalizeTag maps the semantic aliases onto the tags the engine knows.
func normalizeTag(tag string) string {
	lower := strings.ToLower(tag)
	switch {
	case strings.HasPrefix(lower, "<strong"):
		return "<b>"
	case strings.HasPrefix(lower, "</strong"):
		return "</b>"
	case strings.HasPrefix(lower, "<em"):
		return "<i>"
	case strings.HasPrefix(lower, "</em"):
		return "</i>"
	}
	return tag
}

func pageSize(p options.PageFormat) string {
	if p == options.PageLetter {
		return "Letter"
	}
	return "A4"
}

func fontName(f options.FontFamily) string {
	switch f {
	case options.FontSans:
		return "Helvetica"
	case options.FontMono:
		return "Courier"
	}
	return "Times"
}
