package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/posture.report/internal/posture/calibration"
	"github.com/banshee-data/posture.report/internal/posture/detector"
	"github.com/banshee-data/posture.report/internal/posture/loop"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "posture.v1.PostureService"

// Full method names, as used by clients.
const (
	StreamAnalysesMethod   = "/" + ServiceName + "/StreamAnalyses"
	CalibrateMethod        = "/" + ServiceName + "/Calibrate"
	ClearCalibrationMethod = "/" + ServiceName + "/ClearCalibration"
	GetCalibrationMethod   = "/" + ServiceName + "/GetCalibration"
)

// Controller is the slice of the detection loop the service drives.
type Controller interface {
	Calibrate(ctx context.Context) (calibration.Baseline, error)
	ClearCalibration()
	Calibration() (calibration.Baseline, bool)
}

// PostureServiceServer is the server API for the posture service. Messages
// are protobuf well-known types carrying the JSON shape of the domain types.
type PostureServiceServer interface {
	StreamAnalyses(*emptypb.Empty, grpc.ServerStream) error
	Calibrate(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ClearCalibration(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	GetCalibration(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// RegisterPostureServiceServer registers srv on s.
func RegisterPostureServiceServer(s grpc.ServiceRegistrar, srv PostureServiceServer) {
	s.RegisterService(&PostureServiceDesc, srv)
}

func unaryHandler(method string, call func(PostureServiceServer, context.Context, *emptypb.Empty) (any, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PostureServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(PostureServiceServer), ctx, req.(*emptypb.Empty))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func streamAnalysesHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(PostureServiceServer).StreamAnalyses(in, stream)
}

// PostureServiceDesc describes the posture service for grpc.Server.
var PostureServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PostureServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Calibrate",
			Handler: unaryHandler(CalibrateMethod, func(s PostureServiceServer, ctx context.Context, in *emptypb.Empty) (any, error) {
				return s.Calibrate(ctx, in)
			}),
		},
		{
			MethodName: "ClearCalibration",
			Handler: unaryHandler(ClearCalibrationMethod, func(s PostureServiceServer, ctx context.Context, in *emptypb.Empty) (any, error) {
				return s.ClearCalibration(ctx, in)
			}),
		},
		{
			MethodName: "GetCalibration",
			Handler: unaryHandler(GetCalibrationMethod, func(s PostureServiceServer, ctx context.Context, in *emptypb.Empty) (any, error) {
				return s.GetCalibration(ctx, in)
			}),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamAnalyses",
			Handler:       streamAnalysesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "posture/v1/posture.proto",
}

// Ensure Server implements the gRPC interface.
var _ PostureServiceServer = (*Server)(nil)

// Server implements PostureServiceServer on top of a Publisher.
type Server struct {
	publisher *Publisher
	ctrl      Controller
}

// NewServer creates a new gRPC service implementation.
func NewServer(p *Publisher, ctrl Controller) *Server {
	return &Server{publisher: p, ctrl: ctrl}
}

// StreamAnalyses streams every forwarded analysis until the client goes
// away or the publisher stops.
func (s *Server) StreamAnalyses(_ *emptypb.Empty, stream grpc.ServerStream) error {
	id, ch, err := s.publisher.Subscribe()
	if err != nil {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	defer s.publisher.Unsubscribe(id)
	logf("[gRPC] StreamAnalyses started: %s", id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			logf("[gRPC] StreamAnalyses cancelled: %s", id)
			return nil
		case a, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := toStruct(a)
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			if err := stream.SendMsg(msg); err != nil {
				logf("[gRPC] Send error: %v", err)
				return err
			}
		}
	}
}

// Calibrate captures a baseline from the next frame.
func (s *Server) Calibrate(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	b, err := s.ctrl.Calibrate(ctx)
	if err != nil {
		return nil, status.Error(grpcCode(err), err.Error())
	}
	return toStruct(b)
}

// ClearCalibration drops the active baseline.
func (s *Server) ClearCalibration(_ context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	s.ctrl.ClearCalibration()
	return &emptypb.Empty{}, nil
}

// GetCalibration returns the active baseline or NotFound.
func (s *Server) GetCalibration(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	b, ok := s.ctrl.Calibration()
	if !ok {
		return nil, status.Error(codes.NotFound, "not calibrated")
	}
	return toStruct(b)
}

func grpcCode(err error) codes.Code {
	switch {
	case errors.Is(err, loop.ErrNotInitialized):
		return codes.FailedPrecondition
	case errors.Is(err, calibration.ErrPersonNotVisible):
		return codes.InvalidArgument
	case errors.Is(err, loop.ErrSourceUnavailable):
		return codes.Unavailable
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	}
	return codes.Internal
}

// toStruct converts any JSON-tagged value into a protobuf Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// fromStruct is the inverse of toStruct.
func fromStruct(s *structpb.Struct, v any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", s.ProtoReflect().Descriptor().Name(), err)
	}
	return nil
}

// AnalysisFromStruct decodes a streamed analysis.
func AnalysisFromStruct(s *structpb.Struct) (detector.Analysis, error) {
	var a detector.Analysis
	err := fromStruct(s, &a)
	return a, err
}

// BaselineFromStruct decodes a calibration reply.
func BaselineFromStruct(s *structpb.Struct) (calibration.Baseline, error) {
	var b calibration.Baseline
	err := fromStruct(s, &b)
	return b, err
}
