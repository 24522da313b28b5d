package imaging

import (
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"

	"golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
	FormatGIF  = "gif"
	FormatBMP  = "bmp"
	FormatWebP = "webp"
)

// jpegQuality 与大多数图片服务的默认值保持一致。
const jpegQuality = 90

func init() {
	MustRegister(Format{
		Key:        FormatPNG,
		MIMEType:   "image/png",
		Extensions: []string{"png"},
		Encode:     png.Encode,
	})
	MustRegister(Format{
		Key:        FormatJPEG,
		MIMEType:   "image/jpeg",
		Extensions: []string{"jpg", "jpeg"},
		Encode: func(w io.Writer, img image.Image) error {
			return jpeg.Encode(w, img, &jpeg.Options{Quality: jpegQuality})
		},
	})
	MustRegister(Format{
		Key:        FormatGIF,
		MIMEType:   "image/gif",
		Extensions: []string{"gif"},
		Encode: func(w io.Writer, img image.Image) error {
			return gif.Encode(w, img, nil)
		},
	})
	MustRegister(Format{
		Key:        FormatBMP,
		MIMEType:   "image/bmp",
		Extensions: []string{"bmp"},
		Encode:     bmp.Encode,
	})
	// webp 只有解码器，重新编码时回退到默认格式。
	MustRegister(Format{
		Key:        FormatWebP,
		MIMEType:   "image/webp",
		Extensions: []string{"webp"},
	})
}
