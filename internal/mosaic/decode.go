package mosaic

import (
	"fmt"
	"image"

	// Registers WebP with image.Decode; imaging covers the rest.
	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

// loadImage decodes the image at path, applying EXIF orientation so camera
// captures come out upright.
func loadImage(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: image %s: %w", ErrMediaDecode, path, err)
	}
	return img, nil
}

// buildTile decodes the image at path and returns its mosaic frame together
// with the decoded image size. maxSide bounds the tile side when positive.
func buildTile(path string, maxSide int) (*image.NRGBA, image.Point, error) {
	img, err := loadImage(path)
	if err != nil {
		return nil, image.Point{}, err
	}
	size := img.Bounds().Size()
	if size.X <= 0 || size.Y <= 0 {
		return nil, size, fmt.Errorf("%w: image %s has no pixels", ErrMediaDecode, path)
	}

	square := SquareCrop(img)
	if maxSide > 0 && square.Bounds().Dx() > maxSide {
		square = imaging.Clone(resize.Resize(uint(maxSide), uint(maxSide), square, resize.Lanczos3))
	}
	return Tile(square), size, nil
}

// tileFrames is the media.FrameSource of one clip. Frame i shows the tile of
// image sequence[i]. Tiles that fit in the cache budget stay in memory; the
// others are rebuilt from disk when displayed, keeping only the latest one.
type tileFrames struct {
	paths    []string
	sequence []int
	maxSide  int
	side     int

	cached  [][]byte
	lastIdx int
	last    []byte
}

// newTileFrames builds the tile of every displayed image once, checking that
// all images share the dimensions of the first, and keeps tiles in memory
// while their total size stays within budget bytes.
func newTileFrames(paths []string, plan Plan, maxSide int, budget int64) (*tileFrames, error) {
	n := plan.Distinct(len(paths))
	tf := &tileFrames{
		paths:    paths,
		sequence: plan.Sequence,
		maxSide:  maxSide,
		cached:   make([][]byte, n),
		lastIdx:  -1,
	}

	var want image.Point
	var used int64
	for i := 0; i < n; i++ {
		tile, size, err := buildTile(paths[i], maxSide)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			want = size
			tf.side = tile.Bounds().Dx() / 2
		} else if size != want {
			return nil, fmt.Errorf("%w: image %s is %dx%d, expected %dx%d",
				ErrInvalidInput, paths[i], size.X, size.Y, want.X, want.Y)
		}

		pix := rgbaBytes(tile)
		if used+int64(len(pix)) <= budget {
			tf.cached[i] = pix
			used += int64(len(pix))
		}
	}
	return tf, nil
}

// Len returns the number of frames.
func (tf *tileFrames) Len() int {
	return len(tf.sequence)
}

// Frame returns the RGBA bytes of frame i.
func (tf *tileFrames) Frame(i int) ([]byte, error) {
	idx := tf.sequence[i]
	if pix := tf.cached[idx]; pix != nil {
		return pix, nil
	}
	if idx == tf.lastIdx {
		return tf.last, nil
	}

	// Compose reports these through ErrMediaProcessing, so the decode
	// sentinels are not wrapped here.
	tile, _, err := buildTile(tf.paths[idx], tf.maxSide)
	if err != nil {
		return nil, fmt.Errorf("rebuild tile: %v", err)
	}
	if side := tile.Bounds().Dx() / 2; side != tf.side {
		return nil, fmt.Errorf("image %s changed size while encoding", tf.paths[idx])
	}
	tf.last, tf.lastIdx = rgbaBytes(tile), idx
	return tf.last, nil
}

// Cached reports how many distinct tiles are held in memory.
func (tf *tileFrames) Cached() int {
	n := 0
	for _, pix := range tf.cached {
		if pix != nil {
			n++
		}
	}
	return n
}

// rgbaBytes returns the tightly packed RGBA bytes of img.
func rgbaBytes(img *image.NRGBA) []byte {
	b := img.Bounds()
	rowLen := 4 * b.Dx()
	if img.Stride == rowLen && len(img.Pix) == rowLen*b.Dy() {
		return img.Pix
	}
	out := make([]byte, 0, rowLen*b.Dy())
	for y := 0; y < b.Dy(); y++ {
		start := y * img.Stride
		out = append(out, img.Pix[start:start+rowLen]...)
	}
	return out
}
