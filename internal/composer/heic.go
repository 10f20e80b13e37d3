//go:build cgo

package composer

// HEIC decoding needs libde265 through cgo; without it HEIC files fail
// conversion with ErrConversion.
import _ "github.com/jdeng/goheif"
