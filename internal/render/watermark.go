package render

import (
	"bytes"
	"encoding/base64"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	apperrors "github.com/ticketpress/ticketpress/internal/errors"
)

// watermarkImage is a decoded inline image watermark payload: the raw bytes
// plus the intrinsic pixel dimensions, reused as point dimensions on the page.
type watermarkImage struct {
	Kind   string
	Data   []byte
	Width  float64
	Height float64
}

// decodeWatermarkImage parses a data:image URI of the form
// data:image/<subtype>;base64,<payload>. Spec validation already restricts
// image watermark values to the data:image scheme, so anything failing here
// is malformed rather than unsafe.
func decodeWatermarkImage(value string) (watermarkImage, error) {
	const prefix = "data:image/"
	if !strings.HasPrefix(strings.ToLower(value), prefix) {
		return watermarkImage{}, apperrors.Newf(apperrors.ErrCodeValidation, "watermark image value must be a data:image URI")
	}
	comma := strings.IndexByte(value, ',')
	if comma < 0 {
		return watermarkImage{}, apperrors.Newf(apperrors.ErrCodeValidation, "watermark image data URI has no payload")
	}
	meta := strings.ToLower(value[len(prefix):comma])
	if !strings.HasSuffix(meta, ";base64") {
		return watermarkImage{}, apperrors.Newf(apperrors.ErrCodeValidation, "watermark image data URI must be base64 encoded")
	}

	var kind string
	switch subtype := strings.TrimSuffix(meta, ";base64"); subtype {
	case "png":
		kind = "PNG"
	case "jpeg", "jpg":
		kind = "JPG"
	case "gif":
		kind = "GIF"
	default:
		return watermarkImage{}, apperrors.Newf(apperrors.ErrCodeValidation, "unsupported watermark image type %q", subtype)
	}

	data, err := base64.StdEncoding.DecodeString(value[comma+1:])
	if err != nil {
		return watermarkImage{}, apperrors.Wrap(err, apperrors.ErrCodeValidation, "decode watermark image payload")
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return watermarkImage{}, apperrors.Wrap(err, apperrors.ErrCodeValidation, "read watermark image header")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return watermarkImage{}, apperrors.Newf(apperrors.ErrCodeValidation, "watermark image has no extent")
	}
	return watermarkImage{
		Kind:   kind,
		Data:   data,
		Width:  float64(cfg.Width),
		Height: float64(cfg.Height),
	}, nil
}
