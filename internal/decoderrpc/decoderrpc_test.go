package decoderrpc

import (
	"context"
	"errors"
	"image"
	"net"
	"testing"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/example/camqr/internal/barcode"
	"github.com/example/camqr/internal/camera"
	"github.com/example/camqr/internal/logging"
)

type failingDecoder struct{}

func (failingDecoder) Process(context.Context, *camera.Frame) ([]barcode.Barcode, error) {
	return nil, errors.New("model not loaded")
}

func startServer(t *testing.T, decoder barcode.Decoder) barcode.Decoder {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	Register(srv, decoder, zap.NewNop())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, conn, err := Dial(context.Background(), "bufnet", zap.NewNop(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return client
}

func TestRemoteDecodeRoundTrip(t *testing.T) {
	client := startServer(t, barcode.NewZXingDecoder(zap.NewNop()))

	img, err := qrcode.NewQRCodeWriter().Encode("HELLO", gozxing.BarcodeFormat_QR_CODE, 256, 256, nil)
	if err != nil {
		t.Fatalf("encode qr: %v", err)
	}
	codes, err := client.Process(context.Background(), camera.NewFrame(img, 0, time.Now(), nil))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	got, ok := barcode.FirstQR(codes)
	if !ok || got != "HELLO" {
		t.Fatalf("expected HELLO, got %+v", codes)
	}
}

func TestRemoteDecodeBlankFrame(t *testing.T) {
	client := startServer(t, barcode.NewZXingDecoder(zap.NewNop()))

	blank := image.NewGray(image.Rect(0, 0, 32, 32))
	codes, err := client.Process(context.Background(), camera.NewFrame(blank, 0, time.Now(), nil))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(codes) != 0 {
		t.Fatalf("expected no codes, got %+v", codes)
	}
}

func TestRemoteDecodeFailureIsOperationError(t *testing.T) {
	client := startServer(t, failingDecoder{})

	blank := image.NewGray(image.Rect(0, 0, 8, 8))
	_, err := client.Process(context.Background(), camera.NewFrame(blank, 0, time.Now(), nil))
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) || opErr.Operation != "decoderrpc.decode" {
		t.Fatalf("expected decoderrpc.decode OperationError, got %v", err)
	}
	if status.Code(errors.Unwrap(err)) != codes.Internal {
		t.Fatalf("expected internal status, got %v", err)
	}
}

func TestClientRejectsEmptyFrame(t *testing.T) {
	client := NewClient(nil, zap.NewNop())
	if _, err := client.Process(context.Background(), camera.NewFrame(nil, 0, time.Now(), nil)); !errors.Is(err, barcode.ErrNoImage) {
		t.Fatalf("expected ErrNoImage, got %v", err)
	}
}
