package composer

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

var (
	ErrTooLarge        = errors.New("file too large")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrConversion      = errors.New("image conversion failed")
)

const (
	mimeJPEG = "image/jpeg"
	mimePDF  = "application/pdf"
	mimeDoc  = "application/msword"
	mimeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// mimeByExt is the allow-list, keyed by lower-case extension.
var mimeByExt = map[string]string{
	".jpg":  mimeJPEG,
	".jpeg": mimeJPEG,
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".heic": "image/heic",
	".heif": "image/heif",
	".pdf":  mimePDF,
	".doc":  mimeDoc,
	".docx": mimeDocx,
}

// File is a user-selected attachment.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Size is the file length in bytes.
func (f File) Size() int64 { return int64(len(f.Data)) }

func (f File) ext() string { return strings.ToLower(filepath.Ext(f.Name)) }

// CoerceType fills in a missing content type from the file extension.
func CoerceType(f File) File {
	ct := strings.TrimSpace(f.ContentType)
	if ct == "" || ct == "application/octet-stream" {
		ct = mimeByExt[f.ext()]
	}
	// Drop parameters such as "; charset=binary".
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	f.ContentType = strings.ToLower(ct)
	return f
}

// allowedTypes is every content type the allow-list accepts.
var allowedTypes = func() map[string]bool {
	out := map[string]bool{
		"image/heic-sequence": true,
		"image/heif-sequence": true,
	}
	for _, ct := range mimeByExt {
		out[ct] = true
	}
	return out
}()

// Allowed reports whether a coerced file is an image, a PDF or a Word
// document. A file with an extension must have a listed one, and the
// extension must agree with the content type.
func Allowed(f File) bool {
	if !allowedTypes[f.ContentType] {
		return false
	}
	ext := f.ext()
	if ext == "" {
		return true
	}
	want, ok := mimeByExt[ext]
	if !ok {
		return false
	}
	return typeFamily(want) == typeFamily(f.ContentType)
}

// typeFamily folds the HEIC and HEIF variants into one name.
func typeFamily(ct string) string {
	switch ct {
	case "image/heic", "image/heif", "image/heic-sequence", "image/heif-sequence":
		return "image/heif"
	}
	return ct
}

// IsHEIC reports whether f needs converting to JPEG before upload.
func IsHEIC(f File) bool {
	switch f.ContentType {
	case "image/heic", "image/heif", "image/heic-sequence", "image/heif-sequence":
		return true
	}
	ext := f.ext()
	return ext == ".heic" || ext == ".heif"
}

// Validate coerces the type of f and checks it against the size ceiling
// and the allow-list.
func Validate(f File, maxBytes int64) (File, error) {
	f = CoerceType(f)
	if maxBytes > 0 && f.Size() > maxBytes {
		return f, fmt.Errorf("%w: %s is %s, the limit is %s", ErrTooLarge,
			f.Name, humanize.IBytes(uint64(f.Size())), humanize.IBytes(uint64(maxBytes)))
	}
	if !Allowed(f) {
		return f, fmt.Errorf("%w: %s (%s)", ErrUnsupportedType, f.Name, f.ContentType)
	}
	return f, nil
}
