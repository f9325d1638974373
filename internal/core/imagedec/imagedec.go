// Package imagedec turns downloaded tile bytes into images
package imagedec

import (
	"bytes"
	"image"
	"image/png"

	// decoders register themselves with image.Decode
	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	perr "tilefetch/internal/platform/errors"
)

// Decoded is an image together with the format name the sniffer matched
type Decoded struct {
	Image  image.Image
	Format string
}

// Decode sniffs the format and decodes buf
// Empty or unrecognized input yields a Decode coded error
func Decode(buf []byte) (Decoded, error) {
	if len(buf) == 0 {
		return Decoded{}, perr.Decodef("image: empty buffer")
	}
	img, format, err := image.Decode(bytes.NewReader(buf))
	if err != nil {
		return Decoded{}, perr.Wrap(err, perr.ErrorCodeDecode, "image: cannot decode")
	}
	return Decoded{Image: img, Format: format}, nil
}

// PNG re-encodes img, used when serving decoded tiles back over HTTP
func PNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnknown, "image: png encode")
	}
	return buf.Bytes(), nil
}
