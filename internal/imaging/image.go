package imaging

import (
	"errors"
	"image"
)

// ErrDecodeFailed 表示字节存在但不是可识别的图片。
var ErrDecodeFailed = errors.New("image decode failed")

// ErrEncodeUnsupported 表示目标格式未注册编码器，且无法回退到默认格式。
var ErrEncodeUnsupported = errors.New("image encode unsupported")

// bytesPerPixel 按 RGBA 估算每个像素的内存占用。
const bytesPerPixel = 4

// Image 是解码后的图片，Format 记录来源格式（png/jpeg/gif/...），编码时优先沿用。
type Image struct {
	image.Image
	Format string
}

// New 包装一个已解码的图片。
func New(img image.Image, format string) *Image {
	return &Image{Image: img, Format: format}
}

// Cost 估算图片在内存中的占用（像素字节数），作为内存层的 cost。
func (img *Image) Cost() int64 {
	if img == nil || img.Image == nil {
		return 0
	}
	bounds := img.Bounds()
	return int64(bounds.Dx()) * int64(bounds.Dy()) * bytesPerPixel
}

// Codec 抽象 decode(bytes) -> Image 与 encode(Image) -> bytes 能力。
type Codec interface {
	Decode(data []byte) (*Image, error)
	Encode(img *Image) ([]byte, error)
}
