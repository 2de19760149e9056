package mosaic

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// quadrant places one rotation variant of the square tile in the grid.
type quadrant struct {
	// col and row are the grid cell, in tile units.
	col, row int
	// rotate produces the variant; angles are clockwise.
	rotate func(image.Image) *image.NRGBA
}

// layout is the 2x2 arrangement: top row identity and 270 degrees,
// bottom row 90 and 180 degrees.
var layout = [4]quadrant{
	{col: 0, row: 0, rotate: imaging.Clone},
	{col: 1, row: 0, rotate: rotateCW270},
	{col: 0, row: 1, rotate: rotateCW90},
	{col: 1, row: 1, rotate: imaging.Rotate180},
}

// imaging rotates counter-clockwise.
func rotateCW90(img image.Image) *image.NRGBA  { return imaging.Rotate270(img) }
func rotateCW270(img image.Image) *image.NRGBA { return imaging.Rotate90(img) }

// CropRect returns the centered square crop window for a width x height frame.
// The side is min(width, height); offsets use floor division, so an odd
// difference leaves the window one pixel closer to the top/left edge.
func CropRect(width, height int) image.Rectangle {
	side := min(width, height)
	offW := (width - side) / 2
	offH := (height - side) / 2
	return image.Rect(offW, offH, offW+side, offH+side)
}

// SquareCrop crops img to its centered square.
func SquareCrop(img image.Image) *image.NRGBA {
	b := img.Bounds()
	rect := CropRect(b.Dx(), b.Dy()).Add(b.Min)
	return imaging.Crop(img, rect)
}

// Tile arranges four rotation variants of a square image into a grid twice
// its side. Non-square input is center-cropped first.
func Tile(square image.Image) *image.NRGBA {
	b := square.Bounds()
	if b.Dx() != b.Dy() {
		square = SquareCrop(square)
		b = square.Bounds()
	}
	side := b.Dx()

	grid := imaging.New(2*side, 2*side, color.NRGBA{A: 0xff})
	for _, q := range layout {
		grid = imaging.Paste(grid, q.rotate(square), image.Pt(q.col*side, q.row*side))
	}
	return grid
}
