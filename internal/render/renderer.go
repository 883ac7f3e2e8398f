// Package render draws a position as a PNG for spectators that cannot run a
// board view, such as chat unfurls and the /board.png endpoint.
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
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/cheese-relay/internal/rules"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	defaultSquareSize = 64
	margin            = 20
	maxOutputSize     = 2048
)

var (
	lightSquare     = color.RGBA{233, 207, 163, 255}
	darkSquare      = color.RGBA{187, 136, 96, 255}
	backgroundColor = color.RGBA{40, 43, 58, 255}
	lastMoveFill    = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	coordinateColor = color.NRGBA{R: 204, G: 210, B: 236, A: 255}
)

type Options struct {
	// Orientation puts this side at the bottom. Empty means white.
	Orientation rules.Side
	LastMove    *rules.Move
	// Size scales the output to Size x Size pixels. 0 keeps the native size.
	Size int
}

type Renderer struct {
	squareSize int

	mu    sync.RWMutex
	cache map[pieceCacheKey]image.Image
}

func New() *Renderer {
	return &Renderer{squareSize: defaultSquareSize, cache: make(map[pieceCacheKey]image.Image)}
}

// PNG renders fen and returns the encoded image.
func (r *Renderer) PNG(ctx context.Context, fen string, opts Options) ([]byte, error) {
	board, err := boardFromFEN(fen)
	if err != nil {
		return nil, err
	}
	if opts.Size < 0 || opts.Size > maxOutputSize {
		return nil, fmt.Errorf("size %d out of range", opts.Size)
	}
	flipped := opts.Orientation == rules.Black
	sq := r.squareSize
	origin := image.Point{X: margin, Y: margin}
	total := sq*8 + margin*2

	img := image.NewRGBA(image.Rect(0, 0, total, total))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, imagedraw.Src)
	drawSquares(img, sq, origin)
	if opts.LastMove != nil {
		drawLastMove(img, *opts.LastMove, sq, origin, flipped)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if err := r.drawPieces(img, board, sq, origin, flipped); err != nil {
		return nil, err
	}
	drawCoordinates(img, sq, origin, flipped)

	var out image.Image = img
	if opts.Size > 0 && opts.Size != total {
		scaled := image.NewRGBA(image.Rect(0, 0, opts.Size, opts.Size))
		xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), img, img.Bounds(), xdraw.Src, nil)
		out = scaled
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func boardFromFEN(fen string) (*nchess.Board, error) {
	opt, err := nchess.FEN(strings.TrimSpace(fen))
	if err != nil {
		return nil, fmt.Errorf("decode fen: %w", err)
	}
	return nchess.NewGame(opt).Position().Board(), nil
}

// squareRect maps a board square to pixels. Row 0 is rank 8 unless the board
// is flipped.
func squareRect(sq nchess.Square, size int, origin image.Point, flipped bool) image.Rectangle {
	col := int(sq.File())
	row := 7 - int(sq.Rank())
	if flipped {
		col, row = 7-col, 7-row
	}
	x := origin.X + col*size
	y := origin.Y + row*size
	return image.Rect(x, y, x+size, y+size)
}

func drawSquares(dst imagedraw.Image, size int, origin image.Point) {
	// colouring is symmetric under a 180 degree turn, so orientation does not matter
	for row := 0; row < 8; row++ {
		for col := 0; col < 8; col++ {
			clr := lightSquare
			if (row+col)%2 == 1 {
				clr = darkSquare
			}
			x := origin.X + col*size
			y := origin.Y + row*size
			imagedraw.Draw(dst, image.Rect(x, y, x+size, y+size), image.NewUniform(clr), image.Point{}, imagedraw.Src)
		}
	}
}

func drawLastMove(dst imagedraw.Image, mv rules.Move, size int, origin image.Point, flipped bool) {
	for _, s := range []string{mv.From, mv.To} {
		sq, err := rules.ParseSquare(s)
		if err != nil {
			continue
		}
		rect := squareRect(sq, size, origin, flipped)
		imagedraw.Draw(dst, rect, image.NewUniform(lastMoveFill), image.Point{}, imagedraw.Over)
	}
}

func (r *Renderer) drawPieces(dst imagedraw.Image, board *nchess.Board, size int, origin image.Point, flipped bool) error {
	for sq, piece := range board.SquareMap() {
		if piece == nchess.NoPiece {
			continue
		}
		img, err := r.pieceImage(piece, size)
		if err != nil {
			return err
		}
		imagedraw.Draw(dst, squareRect(sq, size, origin, flipped), img, image.Point{}, imagedraw.Over)
	}
	return nil
}

func drawCoordinates(dst imagedraw.Image, size int, origin image.Point, flipped bool) {
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(coordinateColor), Face: face}
	ascent := face.Metrics().Ascent.Ceil()
	bottom := origin.Y + 8*size

	for i := 0; i < 8; i++ {
		file := string(rune('a' + i))
		rank := string(rune('8' - i))
		if flipped {
			file = string(rune('h' - i))
			rank = string(rune('1' + i))
		}
		center := origin.X + i*size + size/2
		drawCentered(d, file, center, bottom+ascent+2)
		mid := origin.Y + i*size + size/2
		drawCentered(d, rank, origin.X-margin/2, mid+ascent/2)
	}
}

func drawCentered(d *font.Drawer, text string, cx, baseline int) {
	w := d.MeasureString(text).Round()
	d.Dot = fixed.P(cx-w/2, baseline)
	d.DrawString(text)
}
