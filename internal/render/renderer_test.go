package render

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/cheese-relay/internal/rules"
)

func decode(t *testing.T, b []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	return img
}

func TestPNG_NativeAndScaled(t *testing.T) {
	r := New()
	b, err := r.PNG(context.Background(), rules.StartFEN, Options{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := defaultSquareSize*8 + margin*2
	if got := decode(t, b).Bounds().Dx(); got != want {
		t.Fatalf("width = %d, want %d", got, want)
	}

	b, err = r.PNG(context.Background(), rules.StartFEN, Options{Size: 256})
	if err != nil {
		t.Fatalf("render scaled: %v", err)
	}
	if got := decode(t, b).Bounds(); got.Dx() != 256 || got.Dy() != 256 {
		t.Fatalf("scaled bounds = %v", got)
	}
}

func TestPNG_OrientationDiffers(t *testing.T) {
	r := New()
	fen := "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"
	last := &rules.Move{From: "e2", To: "e4"}
	white, err := r.PNG(context.Background(), fen, Options{LastMove: last})
	if err != nil {
		t.Fatalf("white: %v", err)
	}
	black, err := r.PNG(context.Background(), fen, Options{Orientation: rules.Black, LastMove: last})
	if err != nil {
		t.Fatalf("black: %v", err)
	}
	if bytes.Equal(white, black) {
		t.Fatalf("orientation had no effect")
	}
}

func TestPNG_Errors(t *testing.T) {
	r := New()
	if _, err := r.PNG(context.Background(), "garbage", Options{}); err == nil {
		t.Fatalf("expected fen error")
	}
	if _, err := r.PNG(context.Background(), rules.StartFEN, Options{Size: 1 << 20}); err == nil {
		t.Fatalf("expected size error")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.PNG(ctx, rules.StartFEN, Options{}); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestPieceImage_Cached(t *testing.T) {
	r := New()
	for _, p := range []nchess.Piece{nchess.WhiteKing, nchess.BlackKnight, nchess.WhitePawn} {
		a, err := r.pieceImage(p, 32)
		if err != nil {
			t.Fatalf("piece %v: %v", p, err)
		}
		b, _ := r.pieceImage(p, 32)
		if a != b {
			t.Fatalf("piece %v not cached", p)
		}
	}
	if len(r.cache) != 3 {
		t.Fatalf("cache size = %d", len(r.cache))
	}
}
