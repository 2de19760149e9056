package mosaic

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	red   = color.NRGBA{R: 0xff, A: 0xff}
	green = color.NRGBA{G: 0xff, A: 0xff}
	blue  = color.NRGBA{B: 0xff, A: 0xff}
	white = color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

// quad returns a 2x2 image with a distinct color in every pixel.
func quad() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(0, 0, red)
	img.SetNRGBA(1, 0, green)
	img.SetNRGBA(0, 1, blue)
	img.SetNRGBA(1, 1, white)
	return img
}

func TestCropRect(t *testing.T) {
	tests := []struct {
		name   string
		w, h   int
		expect image.Rectangle
	}{
		{"landscape", 80, 60, image.Rect(10, 0, 70, 60)},
		{"portrait", 60, 100, image.Rect(0, 20, 60, 80)},
		{"square", 5, 5, image.Rect(0, 0, 5, 5)},
		{"odd horizontal excess", 61, 60, image.Rect(0, 0, 60, 60)},
		{"odd vertical excess", 60, 63, image.Rect(0, 1, 60, 61)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := CropRect(tt.w, tt.h)
			assert.Equal(t, tt.expect, r)
			assert.Equal(t, r.Dx(), r.Dy())
		})
	}
}

func TestSquareCrop(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 2))
	for x := 0; x < 4; x++ {
		for y := 0; y < 2; y++ {
			img.SetNRGBA(x, y, red)
		}
	}
	img.SetNRGBA(1, 0, green)
	img.SetNRGBA(2, 1, blue)

	sq := SquareCrop(img)

	require.Equal(t, image.Rect(0, 0, 2, 2), sq.Bounds())
	assert.Equal(t, green, sq.NRGBAAt(0, 0))
	assert.Equal(t, blue, sq.NRGBAAt(1, 1))
}

func TestSquareCrop_OffsetBounds(t *testing.T) {
	img := image.NewNRGBA(image.Rect(10, 10, 14, 12))
	img.SetNRGBA(11, 10, green)

	sq := SquareCrop(img)

	require.Equal(t, 2, sq.Bounds().Dx())
	assert.Equal(t, green, sq.NRGBAAt(0, 0))
}

func TestTile(t *testing.T) {
	grid := Tile(quad())

	require.Equal(t, image.Rect(0, 0, 4, 4), grid.Bounds())

	want := map[image.Point]color.NRGBA{
		// top-left: unrotated
		{0, 0}: red, {1, 0}: green, {0, 1}: blue, {1, 1}: white,
		// top-right: 270 degrees clockwise
		{2, 0}: green, {3, 0}: white, {2, 1}: red, {3, 1}: blue,
		// bottom-left: 90 degrees clockwise
		{0, 2}: blue, {1, 2}: red, {0, 3}: white, {1, 3}: green,
		// bottom-right: 180 degrees
		{2, 2}: white, {3, 2}: blue, {2, 3}: green, {3, 3}: red,
	}
	for p, c := range want {
		assert.Equal(t, c, grid.NRGBAAt(p.X, p.Y), "pixel %v", p)
	}
}

func TestTile_CropsNonSquareInput(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 6, 2))
	grid := Tile(img)

	assert.Equal(t, image.Rect(0, 0, 4, 4), grid.Bounds())
}

func TestTile_DoesNotModifySource(t *testing.T) {
	src := quad()
	before := append([]byte(nil), src.Pix...)

	_ = Tile(src)

	assert.Equal(t, before, src.Pix)
}

func TestRGBABytes(t *testing.T) {
	t.Run("tightly packed", func(t *testing.T) {
		img := quad()
		assert.Len(t, rgbaBytes(img), 16)
	})

	t.Run("sub image", func(t *testing.T) {
		big := image.NewNRGBA(image.Rect(0, 0, 4, 4))
		big.SetNRGBA(2, 2, green)
		sub := big.SubImage(image.Rect(2, 2, 4, 4)).(*image.NRGBA)

		b := rgbaBytes(sub)

		require.Len(t, b, 16)
		assert.Equal(t, []byte{0, 0xff, 0, 0xff}, b[:4])
	})
}
