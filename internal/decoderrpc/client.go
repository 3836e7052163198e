package decoderrpc

import (
	"bytes"
	"context"
	"image/png"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/camqr/internal/barcode"
	"github.com/example/camqr/internal/camera"
	"github.com/example/camqr/internal/logging"
)

// Dial returns a ready-to-use decoder backed by the remote service.
func Dial(ctx context.Context, addr string, logger *zap.Logger, opts ...grpc.DialOption) (barcode.Decoder, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)
	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("decoderrpc.dial", "", err)
		logger.Error("failed to dial decoder", append(logging.ErrorFields(wrapped), zap.String("addr", addr))...)
		return nil, nil, wrapped
	}
	return NewClient(conn, logger), conn, nil
}

// Client is a barcode.Decoder that forwards frames over gRPC.
type Client struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

// NewClient wraps an existing connection.
func NewClient(conn grpc.ClientConnInterface, logger *zap.Logger) *Client {
	return &Client{conn: conn, logger: logger.Named("decoder_client")}
}

// Process sends the frame to the remote decoder.
func (c *Client) Process(ctx context.Context, frame *camera.Frame) ([]barcode.Barcode, error) {
	if frame == nil || frame.Image == nil {
		return nil, barcode.ErrNoImage
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, frame.Image); err != nil {
		return nil, logging.NewOperationError("decoderrpc.encode_frame", "", err)
	}

	out := new(structpb.ListValue)
	if err := c.conn.Invoke(ctx, decodeMethod, wrapperspb.Bytes(buf.Bytes()), out); err != nil {
		wrapped := logging.NewOperationError("decoderrpc.decode", "", err)
		c.logger.Debug("remote decode failed", append(logging.ErrorFields(wrapped), zap.Uint64("seq", frame.Seq))...)
		return nil, wrapped
	}
	return decodeBarcodes(out)
}
