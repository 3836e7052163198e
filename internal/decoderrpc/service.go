// Package decoderrpc runs a barcode.Decoder behind a gRPC endpoint. Messages
// use protobuf well-known types: the frame travels as a PNG in a BytesValue
// and results come back as a ListValue of {format, raw_value} structs.
package decoderrpc

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/camqr/internal/barcode"
	"github.com/example/camqr/internal/camera"
)

const (
	serviceName  = "camqr.decoder.v1.Decoder"
	decodeMethod = "/" + serviceName + "/Decode"
)

type decoderServer struct {
	decoder barcode.Decoder
	logger  *zap.Logger
}

// Register exposes decoder on server.
func Register(server *grpc.Server, decoder barcode.Decoder, logger *zap.Logger) {
	impl := &decoderServer{decoder: decoder, logger: logger.Named("decoder_server")}
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*interface{})(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Decode",
			Handler:    impl.handleDecode,
		}},
		Streams:  []grpc.StreamDesc{},
		Metadata: "camqr/decoder/v1/decoder.proto",
	}, impl)
}

func (s *decoderServer) handleDecode(_ interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return s.decode(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: s, FullMethod: decodeMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.decode(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func (s *decoderServer) decode(ctx context.Context, in *wrapperspb.BytesValue) (*structpb.ListValue, error) {
	var img image.Image
	if len(in.GetValue()) > 0 {
		decoded, err := png.Decode(bytes.NewReader(in.GetValue()))
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "frame is not a png: %v", err)
		}
		img = decoded
	}

	frame := camera.NewFrame(img, 0, time.Now(), nil)
	defer frame.Close()
	codesFound, err := s.decoder.Process(ctx, frame)
	if err != nil {
		s.logger.Debug("decode failed", zap.Error(err))
		return nil, status.Errorf(codes.Internal, "decode: %v", err)
	}
	return encodeBarcodes(codesFound)
}

func encodeBarcodes(found []barcode.Barcode) (*structpb.ListValue, error) {
	values := make([]interface{}, 0, len(found))
	for _, code := range found {
		values = append(values, map[string]interface{}{
			"format":    code.Format.String(),
			"raw_value": code.RawValue,
		})
	}
	return structpb.NewList(values)
}

func decodeBarcodes(list *structpb.ListValue) ([]barcode.Barcode, error) {
	found := make([]barcode.Barcode, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		entry := v.GetStructValue()
		if entry == nil {
			return nil, fmt.Errorf("result %d is not a struct", i)
		}
		fields := entry.GetFields()
		found = append(found, barcode.Barcode{
			Format:   barcode.ParseFormat(fields["format"].GetStringValue()),
			RawValue: fields["raw_value"].GetStringValue(),
		})
	}
	return found, nil
}
