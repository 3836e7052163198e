// Package barcode defines decoded barcode results and the decoder contract
// used by the scan pipeline.
package barcode

import (
	"context"
	"errors"

	"github.com/example/camqr/internal/camera"
)

// ErrNoImage is returned when a frame carries no image data.
var ErrNoImage = errors.New("barcode: frame has no image data")

// Format is the symbology of a decoded barcode.
type Format int

const (
	FormatUnknown Format = iota
	FormatQRCode
	FormatDataMatrix
	FormatAztec
	FormatPDF417
	FormatEAN13
	FormatEAN8
	FormatUPCA
	FormatUPCE
	FormatCode128
	FormatCode39
	FormatCode93
	FormatCodabar
	FormatITF
)

var formatNames = map[Format]string{
	FormatUnknown:    "unknown",
	FormatQRCode:     "qr_code",
	FormatDataMatrix: "data_matrix",
	FormatAztec:      "aztec",
	FormatPDF417:     "pdf417",
	FormatEAN13:      "ean_13",
	FormatEAN8:       "ean_8",
	FormatUPCA:       "upc_a",
	FormatUPCE:       "upc_e",
	FormatCode128:    "code_128",
	FormatCode39:     "code_39",
	FormatCode93:     "code_93",
	FormatCodabar:    "codabar",
	FormatITF:        "itf",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return formatNames[FormatUnknown]
}

// ParseFormat maps a name produced by String back to a Format.
func ParseFormat(name string) Format {
	for f, n := range formatNames {
		if n == name {
			return f
		}
	}
	return FormatUnknown
}

// Barcode is one code found in a frame.
type Barcode struct {
	Format   Format
	RawValue string
}

// Decoder finds barcodes in a frame.
type Decoder interface {
	Process(ctx context.Context, frame *camera.Frame) ([]Barcode, error)
}

// FirstQR returns the raw value of the first QR-typed entry. Other
// symbologies are skipped.
func FirstQR(codes []Barcode) (string, bool) {
	for _, code := range codes {
		if code.Format == FormatQRCode {
			return code.RawValue, true
		}
	}
	return "", false
}
