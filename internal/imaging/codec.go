package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
)

// StdCodec 基于 image.Decode 的默认编解码实现，解码格式由各 image 子包的 init 注册。
type StdCodec struct {
	// DefaultFormat 在图片格式未知或不可编码时使用，默认 png。
	DefaultFormat string
}

var _ Codec = StdCodec{}

// NewStdCodec 返回以 png 为默认编码格式的 StdCodec。
func NewStdCodec() StdCodec {
	return StdCodec{DefaultFormat: FormatPNG}
}

// Decode 解码字节，空数据或无法识别的数据都返回 ErrDecodeFailed。
func (c StdCodec) Decode(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty data", ErrDecodeFailed)
	}
	decoded, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return New(decoded, format), nil
}

// Encode 优先按图片自身格式编码，不可编码时回退 DefaultFormat。
func (c StdCodec) Encode(img *Image) ([]byte, error) {
	if img == nil || img.Image == nil {
		return nil, errors.New("nil image")
	}
	format, ok := Resolve(img.Format)
	if !ok || !format.CanEncode() {
		fallback := c.DefaultFormat
		if fallback == "" {
			fallback = FormatPNG
		}
		format, ok = Resolve(fallback)
		if !ok || !format.CanEncode() {
			return nil, fmt.Errorf("%w: %s", ErrEncodeUnsupported, img.Format)
		}
	}

	var buf bytes.Buffer
	if err := format.Encode(&buf, img.Image); err != nil {
		return nil, fmt.Errorf("encode %s: %w", format.Key, err)
	}
	return buf.Bytes(), nil
}

// DetectFormat 只读取图片头部识别格式，无法识别时返回空串。
func DetectFormat(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	return format
}
