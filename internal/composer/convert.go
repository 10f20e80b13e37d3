package composer

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"path/filepath"
	"strings"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const jpegQuality = 95

// ToJPEG decodes data with any registered image decoder and re-encodes it
// as JPEG.
func ToJPEG(data []byte) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConversion, err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("%w: encode %s as jpeg: %w", ErrConversion, format, err)
	}
	return buf.Bytes(), nil
}

// ConvertHEIC returns f re-encoded as JPEG with a .jpg name. Other files
// are returned unchanged.
func ConvertHEIC(f File) (File, error) {
	if !IsHEIC(f) {
		return f, nil
	}
	data, err := ToJPEG(f.Data)
	if err != nil {
		return f, err
	}
	return File{
		Name:        strings.TrimSuffix(f.Name, filepath.Ext(f.Name)) + ".jpg",
		ContentType: mimeJPEG,
		Data:        data,
	}, nil
}
