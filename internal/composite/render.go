package composite

import (
	"image"
	"image/color"
	"math"
	"strings"
	"unicode/utf8"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const ellipsis = "..."

// Style fixes caption geometry. The band never grows with text length.
type Style struct {
	BandRatio float64
	MaxLines  int
	FontScale int
}

// Defaults used when Style leaves fields unset.
const (
	DefaultBandRatio = 0.18
	DefaultMaxLines  = 2
	DefaultFontScale = 2
)

var (
	bandColor      = color.RGBA{A: 160}
	captionColor   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	dimmedColor    = color.RGBA{R: 170, G: 170, B: 170, A: 255}
	badgeColor     = color.RGBA{R: 20, G: 70, B: 160, A: 220}
	indicatorBack  = color.RGBA{R: 20, G: 20, B: 20, A: 180}
	indicatorColor = color.RGBA{R: 255, G: 140, B: 0, A: 255}
)

// Renderer draws overlays with a fixed bitmap face scaled by an integer
// factor.
type Renderer struct {
	style Style
	face  font.Face
}

// NewRenderer constructs a Renderer.
func NewRenderer(style Style) *Renderer {
	if style.BandRatio <= 0 || style.BandRatio > 0.5 {
		style.BandRatio = DefaultBandRatio
	}
	if style.MaxLines <= 0 {
		style.MaxLines = DefaultMaxLines
	}
	if style.FontScale <= 0 {
		style.FontScale = DefaultFontScale
	}
	return &Renderer{style: style, face: basicfont.Face7x13}
}

// Compose returns a copy of src with every overlay the plan requests at t.
func (r *Renderer) Compose(src *image.RGBA, plan *Plan, t float64) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	if seg, ok := plan.CaptionAt(t); ok {
		colour := captionColor
		if seg.LowConfidence {
			colour = dimmedColor
		}
		r.drawCaption(dst, seg.Text, colour)
	}
	if plan != nil && plan.Badge != "" {
		r.drawBadge(dst, plan.Badge)
	}
	if level := plan.IndicatorAt(t); level >= 0 {
		r.drawIndicator(dst, level)
	}
	return dst
}

// BandRect returns the caption band for a frame of the given bounds.
func (r *Renderer) BandRect(bounds image.Rectangle) image.Rectangle {
	h := int(math.Round(r.style.BandRatio * float64(bounds.Dy())))
	return image.Rect(bounds.Min.X, bounds.Max.Y-h, bounds.Max.X, bounds.Max.Y)
}

// Layout wraps text into lines that fit a band of the given size and returns
// them with the font scale used. It keeps at most MaxLines lines, fewer when
// the band is too short for them even at scale 1.
func (r *Renderer) Layout(text string, bandWidth, bandHeight int) ([]string, int) {
	scale := r.style.FontScale
	lineHeight := r.lineHeight()
	for scale > 1 && r.style.MaxLines*lineHeight*scale > bandHeight {
		scale--
	}
	maxLines := min(r.style.MaxLines, bandHeight/(lineHeight*scale))
	maxWidth := bandWidth - 2*r.margin(bandWidth)
	if maxWidth <= 0 || maxLines <= 0 {
		return nil, scale
	}

	var lines []string
	current := ""
	for _, word := range strings.Fields(text) {
		if r.measure(word, scale) > maxWidth {
			word = r.ellipsize(word, maxWidth, scale)
		}
		candidate := word
		if current != "" {
			candidate = current + " " + word
		}
		if r.measure(candidate, scale) <= maxWidth {
			current = candidate
			continue
		}
		if current != "" {
			lines = append(lines, current)
		}
		current = word
	}
	if current != "" {
		lines = append(lines, current)
	}
	if len(lines) > maxLines {
		lines = lines[:maxLines]
		last := len(lines) - 1
		lines[last] = r.ellipsize(lines[last], maxWidth, scale)
	}
	return lines, scale
}

// ellipsize appends an ellipsis, dropping runes from the end of s until the
// whole fits maxWidth.
func (r *Renderer) ellipsize(s string, maxWidth, scale int) string {
	s = strings.TrimSpace(s)
	for s != "" {
		if r.measure(s+ellipsis, scale) <= maxWidth {
			return s + ellipsis
		}
		_, size := utf8.DecodeLastRuneInString(s)
		s = strings.TrimSpace(s[:len(s)-size])
	}
	if r.measure(ellipsis, scale) <= maxWidth {
		return ellipsis
	}
	return ""
}

func (r *Renderer) drawCaption(dst *image.RGBA, text string, colour color.Color) {
	band := r.BandRect(dst.Bounds())
	if band.Empty() {
		return
	}
	draw.Draw(dst, band, image.NewUniform(bandColor), image.Point{}, draw.Over)
	lines, scale := r.Layout(text, band.Dx(), band.Dy())
	if len(lines) == 0 {
		return
	}
	lineH := r.lineHeight() * scale
	y := band.Min.Y + (band.Dy()-lineH*len(lines))/2
	for _, line := range lines {
		w := r.measure(line, scale)
		x := band.Min.X + (band.Dx()-w)/2
		r.drawText(dst, band, line, image.Pt(x, y), scale, colour)
		y += lineH
	}
}

func (r *Renderer) drawBadge(dst *image.RGBA, label string) {
	bounds := dst.Bounds()
	scale := max(1, r.style.FontScale-1)
	margin := r.margin(bounds.Dx())
	pad := 2 * scale
	w := r.measure(label, scale) + 2*pad
	h := r.lineHeight()*scale + 2*pad
	rect := image.Rect(bounds.Min.X+margin, bounds.Min.Y+margin, bounds.Min.X+margin+w, bounds.Min.Y+margin+h).Intersect(bounds)
	draw.Draw(dst, rect, image.NewUniform(badgeColor), image.Point{}, draw.Over)
	r.drawText(dst, rect, label, image.Pt(rect.Min.X+pad, rect.Min.Y+pad), scale, captionColor)
}

// drawIndicator draws a level meter whose filled height is level.
func (r *Renderer) drawIndicator(dst *image.RGBA, level float64) {
	bounds := dst.Bounds()
	size := max(12, bounds.Dy()/15)
	margin := r.margin(bounds.Dx())
	rect := image.Rect(bounds.Max.X-margin-size, bounds.Min.Y+margin, bounds.Max.X-margin, bounds.Min.Y+margin+size).Intersect(bounds)
	if rect.Empty() {
		return
	}
	draw.Draw(dst, rect, image.NewUniform(indicatorBack), image.Point{}, draw.Over)
	filled := int(math.Round(math.Max(0, math.Min(1, level)) * float64(rect.Dy())))
	if filled == 0 {
		return
	}
	bar := image.Rect(rect.Min.X, rect.Max.Y-filled, rect.Max.X, rect.Max.Y)
	draw.Draw(dst, bar, image.NewUniform(indicatorColor), image.Point{}, draw.Over)
}

// drawText renders s at 1x and scales it onto dst with its top-left at pt.
// Nothing is drawn outside clip.
func (r *Renderer) drawText(dst *image.RGBA, clip image.Rectangle, s string, pt image.Point, scale int, colour color.Color) {
	w := font.MeasureString(r.face, s).Ceil()
	h := r.lineHeight()
	if w <= 0 {
		return
	}
	glyphs := image.NewRGBA(image.Rect(0, 0, w, h))
	d := font.Drawer{
		Dst:  glyphs,
		Src:  image.NewUniform(colour),
		Face: r.face,
		Dot:  fixed.P(0, r.face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(s)
	area, ok := dst.SubImage(clip).(*image.RGBA)
	if !ok || area.Bounds().Empty() {
		return
	}
	target := image.Rect(pt.X, pt.Y, pt.X+w*scale, pt.Y+h*scale)
	draw.NearestNeighbor.Scale(area, target, glyphs, glyphs.Bounds(), draw.Over, nil)
}

func (r *Renderer) measure(s string, scale int) int {
	return font.MeasureString(r.face, s).Ceil() * scale
}

func (r *Renderer) lineHeight() int {
	return r.face.Metrics().Height.Ceil()
}

func (r *Renderer) margin(width int) int {
	return max(4, width/40)
}
