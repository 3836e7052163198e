package barcode

import (
	"context"
	"errors"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
	"go.uber.org/zap"

	"github.com/example/camqr/internal/camera"
)

var zxingFormats = map[gozxing.BarcodeFormat]Format{
	gozxing.BarcodeFormat_QR_CODE:     FormatQRCode,
	gozxing.BarcodeFormat_DATA_MATRIX: FormatDataMatrix,
	gozxing.BarcodeFormat_AZTEC:       FormatAztec,
	gozxing.BarcodeFormat_PDF_417:     FormatPDF417,
	gozxing.BarcodeFormat_EAN_13:      FormatEAN13,
	gozxing.BarcodeFormat_EAN_8:       FormatEAN8,
	gozxing.BarcodeFormat_UPC_A:       FormatUPCA,
	gozxing.BarcodeFormat_UPC_E:       FormatUPCE,
	gozxing.BarcodeFormat_CODE_128:    FormatCode128,
	gozxing.BarcodeFormat_CODE_39:     FormatCode39,
	gozxing.BarcodeFormat_CODE_93:     FormatCode93,
	gozxing.BarcodeFormat_CODABAR:     FormatCodabar,
	gozxing.BarcodeFormat_ITF:         FormatITF,
}

// ZXingDecoder decodes QR codes and common 1D symbologies with gozxing.
// It is safe for concurrent use: gozxing readers keep per-decode state, so
// every Process call gets its own set.
type ZXingDecoder struct {
	hints  map[gozxing.DecodeHintType]interface{}
	logger *zap.Logger
}

// NewZXingDecoder returns a decoder that tries QR first, then 1D formats.
func NewZXingDecoder(logger *zap.Logger) *ZXingDecoder {
	return &ZXingDecoder{
		hints:  map[gozxing.DecodeHintType]interface{}{gozxing.DecodeHintType_TRY_HARDER: true},
		logger: logger.Named("zxing"),
	}
}

func newReaders() []gozxing.Reader {
	return []gozxing.Reader{
		qrcode.NewQRCodeReader(),
		oned.NewEAN13Reader(),
		oned.NewEAN8Reader(),
		oned.NewCode128Reader(),
		oned.NewCode39Reader(),
	}
}

// Process returns every code a reader recognizes. A reader that finds
// nothing is not an error. The image is turned upright by the frame's
// rotation before decoding.
func (d *ZXingDecoder) Process(ctx context.Context, frame *camera.Frame) ([]Barcode, error) {
	if frame == nil || frame.Image == nil {
		return nil, ErrNoImage
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(Upright(frame.Image, frame.RotationDegrees))
	if err != nil {
		return nil, err
	}

	var codes []Barcode
	for _, reader := range newReaders() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := reader.Decode(bmp, d.hints)
		if err != nil {
			var notFound gozxing.NotFoundException
			if !errors.As(err, &notFound) {
				d.logger.Debug("reader failed", zap.Error(err))
			}
			continue
		}
		format, ok := zxingFormats[result.GetBarcodeFormat()]
		if !ok {
			format = FormatUnknown
		}
		codes = append(codes, Barcode{Format: format, RawValue: result.GetText()})
	}
	return codes, nil
}
