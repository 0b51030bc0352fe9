package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"

	"github.com/park285/cheese-arena/internal/oracle"
)

// Glyph outlines share a 45x45 view box. FILL and STROKE are substituted per
// side before parsing.
var glyphs = map[oracle.PieceKind]string{
	oracle.Pawn: `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45">
<circle cx="22.5" cy="15" r="6" fill="FILL" stroke="STROKE" stroke-width="1.5"/>
<path d="M 17,22 L 28,22 L 31,33 L 14,33 Z" fill="FILL" stroke="STROKE" stroke-width="1.5"/>
<path d="M 11,38 L 34,38 L 34,34 L 11,34 Z" fill="FILL" stroke="STROKE" stroke-width="1.5"/>
</svg>`,
	oracle.Knight: `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45">
<path d="M 22,10 C 32,11 37,18 36,38 L 15,38 C 15,29 24,31 22,20 L 17,25 C 14,27 10,26 10,22 C 10,17 16,12 22,10 Z" fill="FILL" stroke="STROKE" stroke-width="1.5"/>
<circle cx="17" cy="17" r="1.5" fill="STROKE"/>
</svg>`,
	oracle.Bishop: `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45">
<circle cx="22.5" cy="8" r="2.5" fill="FILL" stroke="STROKE" stroke-width="1.5"/>
<path d="M 22.5,11 C 30,16 32,24 28,31 L 17,31 C 13,24 15,16 22.5,11 Z" fill="FILL" stroke="STROKE" stroke-width="1.5"/>
<path d="M 10,38 L 35,38 L 33,33 L 12,33 Z" fill="FILL" stroke="STROKE" stroke-width="1.5"/>
</svg>`,
	oracle.Rook: `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45">
<path d="M 11,9 L 15,9 L 15,12 L 20,12 L 20,9 L 25,9 L 25,12 L 30,12 L 30,9 L 34,9 L 34,15 L 31,17 L 31,31 L 14,31 L 14,17 L 11,15 Z" fill="FILL" stroke="STROKE" stroke-width="1.5"/>
<path d="M 9,38 L 36,38 L 36,33 L 9,33 Z" fill="FILL" stroke="STROKE" stroke-width="1.5"/>
</svg>`,
	oracle.Queen: `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45">
<path d="M 9,13 L 15,25 L 16,11 L 20,24 L 22.5,9 L 25,24 L 29,11 L 30,25 L 36,13 L 32,31 L 13,31 Z" fill="FILL" stroke="STROKE" stroke-width="1.5"/>
<path d="M 10,38 L 35,38 L 33,32 L 12,32 Z" fill="FILL" stroke="STROKE" stroke-width="1.5"/>
</svg>`,
	oracle.King: `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45">
<path d="M 21,5 L 24,5 L 24,8 L 27,8 L 27,11 L 24,11 L 24,14 L 21,14 L 21,11 L 18,11 L 18,8 L 21,8 Z" fill="FILL" stroke="STROKE" stroke-width="1.2"/>
<path d="M 22.5,16 C 34,14 38,22 32,31 L 13,31 C 7,22 11,14 22.5,16 Z" fill="FILL" stroke="STROKE" stroke-width="1.5"/>
<path d="M 10,38 L 35,38 L 33,32 L 12,32 Z" fill="FILL" stroke="STROKE" stroke-width="1.5"/>
</svg>`,
}

type pieceCacheKey struct {
	kind  oracle.PieceKind
	color oracle.Color
	size  int
}

var (
	pieceCache   = map[pieceCacheKey]image.Image{}
	pieceCacheMu sync.RWMutex
)

func pieceSVG(kind oracle.PieceKind, side oracle.Color) ([]byte, error) {
	src, ok := glyphs[kind]
	if !ok {
		return nil, fmt.Errorf("no glyph for piece %q", kind)
	}
	fill, stroke := "#f8f8f4", "#1c1f2e"
	if side == oracle.Black {
		fill, stroke = "#23252f", "#e6e6e0"
	}
	return []byte(strings.NewReplacer("FILL", fill, "STROKE", stroke).Replace(src)), nil
}

func renderPieceImage(kind oracle.PieceKind, side oracle.Color, size int) (image.Image, error) {
	key := pieceCacheKey{kind: kind, color: side, size: size}

	pieceCacheMu.RLock()
	if img, ok := pieceCache[key]; ok {
		pieceCacheMu.RUnlock()
		return img, nil
	}
	pieceCacheMu.RUnlock()

	data, err := pieceSVG(kind, side)
	if err != nil {
		return nil, err
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	pieceCacheMu.Lock()
	pieceCache[key] = img
	pieceCacheMu.Unlock()

	return img, nil
}
