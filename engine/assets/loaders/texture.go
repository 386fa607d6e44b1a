package loaders

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/cockroachdb/errors"
	_ "golang.org/x/image/bmp"
)

type TextureLoader struct{}

func (tl *TextureLoader) Load(path string) (any, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening texture %s", path)
	}
	defer file.Close()

	img, format, err := image.Decode(file)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding texture %s", path)
	}
	if img.Bounds().Empty() {
		return nil, errors.Newf("texture %s (%s) has no pixels", path, format)
	}
	return img, nil
}
