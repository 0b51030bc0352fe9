// Package render draws board positions as PNG images.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/park285/cheese-arena/internal/oracle"
)

const (
	DefaultSquareSize = 64
	minSquareSize     = 16
	maxSquareSize     = 160
)

type Options struct {
	// Orientation is the color drawn at the bottom. NoColor means White.
	Orientation oracle.Color
	// LastFrom and LastTo are square names ("e2") of the previous move.
	LastFrom string
	LastTo   string
	// Check marks the king of this color.
	Check  oracle.Color
	Header string
}

type Renderer struct {
	squareSize int
}

func New(squareSize int) *Renderer {
	if squareSize <= 0 {
		squareSize = DefaultSquareSize
	}
	if squareSize < minSquareSize {
		squareSize = minSquareSize
	}
	if squareSize > maxSquareSize {
		squareSize = maxSquareSize
	}
	return &Renderer{squareSize: squareSize}
}

var (
	lightSquare         = color.RGBA{233, 207, 163, 255}
	darkSquare          = color.RGBA{187, 136, 96, 255}
	moveHighlightFill   = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	checkHighlightFill  = color.NRGBA{R: 230, G: 64, B: 64, A: 150}
	hudPanelColor       = color.NRGBA{R: 28, G: 31, B: 46, A: 250}
	hudTextPrimary      = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
	coordinateTextColor = color.NRGBA{R: 8, G: 214, B: 120, A: 255}
	backgroundColor     = color.RGBA{20, 22, 32, 255}
)

// RenderPNG draws pieces on an 8x8 board with coordinates and an optional
// header strip.
func (r *Renderer) RenderPNG(ctx context.Context, pieces []oracle.Piece, opts Options) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sq := r.squareSize
	margin := sq / 2
	top := margin
	header := strings.TrimSpace(opts.Header)
	if header != "" {
		top += 28
	}
	boardSize := sq * 8
	origin := image.Point{X: margin, Y: top}
	img := image.NewRGBA(image.Rect(0, 0, boardSize+margin*2, boardSize+top+margin))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, imagedraw.Src)

	flip := opts.Orientation == oracle.Black

	drawSquares(img, sq, origin)
	for _, name := range []string{opts.LastFrom, opts.LastTo} {
		if s, ok := parseSquare(name); ok {
			drawSquareOverlay(img, squareRect(s, sq, origin, flip), moveHighlightFill)
		}
	}
	for _, p := range pieces {
		if p.Kind == oracle.King && opts.Check != oracle.NoColor && p.Color == opts.Check {
			drawSquareOverlay(img, squareRect(p.Square, sq, origin, flip), checkHighlightFill)
		}
	}
	for _, p := range pieces {
		if p.Kind == oracle.NoPiece {
			continue
		}
		glyph, err := renderPieceImage(p.Kind, p.Color, sq)
		if err != nil {
			return nil, err
		}
		rect := squareRect(p.Square, sq, origin, flip)
		imagedraw.Draw(img, rect, glyph, image.Point{}, imagedraw.Over)
	}
	drawCoordinates(img, sq, origin, flip)
	if header != "" {
		drawHeader(img, header, image.Rect(margin, margin/2, margin+boardSize, top-6))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func drawSquares(dst imagedraw.Image, size int, origin image.Point) {
	for row := 0; row < 8; row++ {
		for col := 0; col < 8; col++ {
			x := origin.X + col*size
			y := origin.Y + row*size
			// Row 0 is rank 8 from White's side; parity is orientation independent.
			clr := squareColor(oracle.Square{File: col, Rank: 7 - row})
			imagedraw.Draw(dst, image.Rect(x, y, x+size, y+size), image.NewUniform(clr), image.Point{}, imagedraw.Src)
		}
	}
}

func squareColor(sq oracle.Square) color.Color {
	if (sq.File+sq.Rank)%2 == 0 {
		return darkSquare
	}
	return lightSquare
}

func squareRect(sq oracle.Square, size int, origin image.Point, flip bool) image.Rectangle {
	col, row := sq.File, 7-sq.Rank
	if flip {
		col, row = 7-sq.File, sq.Rank
	}
	x := origin.X + col*size
	y := origin.Y + row*size
	return image.Rect(x, y, x+size, y+size)
}

func drawSquareOverlay(img *image.RGBA, rect image.Rectangle, clr color.Color) {
	imagedraw.Draw(img, rect, image.NewUniform(clr), image.Point{}, imagedraw.Over)
}

func drawCoordinates(img *image.RGBA, size int, origin image.Point, flip bool) {
	face := basicfont.Face7x13
	drawer := &font.Drawer{Dst: img, Face: face, Src: image.NewUniform(coordinateTextColor)}
	ascent := face.Metrics().Ascent.Ceil()
	margin := origin.X
	boardEnd := origin.Y + 8*size
	for i := 0; i < 8; i++ {
		file, rank := i, 7-i
		if flip {
			file, rank = 7-i, i
		}
		center := origin.Y + i*size + size/2
		drawCenteredText(drawer, fmt.Sprintf("%d", rank+1), origin.X-margin/2, center+ascent/2)
		fileCenter := origin.X + i*size + size/2
		drawCenteredText(drawer, string(rune('a'+file)), fileCenter, boardEnd+ascent+2)
	}
}

func drawHeader(img *image.RGBA, text string, rect image.Rectangle) {
	if rect.Empty() {
		return
	}
	imagedraw.Draw(img, rect, image.NewUniform(hudPanelColor), image.Point{}, imagedraw.Over)
	face := basicfont.Face7x13
	drawer := &font.Drawer{Dst: img, Face: face, Src: image.NewUniform(hudTextPrimary)}
	text = truncateWithEllipsis(face, text, rect.Dx()-16)
	metrics := face.Metrics()
	baseline := rect.Min.Y + (rect.Dy()+metrics.Ascent.Ceil()-metrics.Descent.Ceil())/2
	drawCenteredText(drawer, text, rect.Min.X+rect.Dx()/2, baseline)
}

func drawCenteredText(drawer *font.Drawer, text string, centerX, baseline int) {
	if text == "" {
		return
	}
	width := drawer.MeasureString(text).Round()
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}

func truncateWithEllipsis(face font.Face, text string, maxWidth int) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || maxWidth <= 0 {
		return trimmed
	}
	drawer := font.Drawer{Face: face}
	if drawer.MeasureString(trimmed).Round() <= maxWidth {
		return trimmed
	}
	const ellipsis = "..."
	runes := []rune(trimmed)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		candidate := string(runes) + ellipsis
		if drawer.MeasureString(candidate).Round() <= maxWidth {
			return candidate
		}
	}
	return ellipsis
}

func parseSquare(name string) (oracle.Square, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if len(name) != 2 {
		return oracle.Square{}, false
	}
	f, r := int(name[0]-'a'), int(name[1]-'1')
	if f < 0 || f > 7 || r < 0 || r > 7 {
		return oracle.Square{}, false
	}
	return oracle.Square{File: f, Rank: r}, true
}
