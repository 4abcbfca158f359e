package publisher

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/posture.report/internal/posture/calibration"
	"github.com/banshee-data/posture.report/internal/posture/detector"
)

// Client is a thin client for the posture service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Calibrate asks the daemon to capture a baseline.
func (c *Client) Calibrate(ctx context.Context) (calibration.Baseline, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, CalibrateMethod, &emptypb.Empty{}, out); err != nil {
		return calibration.Baseline{}, err
	}
	return BaselineFromStruct(out)
}

// ClearCalibration drops the daemon's baseline.
func (c *Client) ClearCalibration(ctx context.Context) error {
	return c.cc.Invoke(ctx, ClearCalibrationMethod, &emptypb.Empty{}, new(emptypb.Empty))
}

// GetCalibration fetches the active baseline.
func (c *Client) GetCalibration(ctx context.Context) (calibration.Baseline, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetCalibrationMethod, &emptypb.Empty{}, out); err != nil {
		return calibration.Baseline{}, err
	}
	return BaselineFromStruct(out)
}

// StreamAnalyses calls fn for each streamed analysis until ctx is done, the
// server ends the stream, or fn returns an error.
func (c *Client) StreamAnalyses(ctx context.Context, fn func(detector.Analysis) error) error {
	stream, err := c.cc.NewStream(ctx, &PostureServiceDesc.Streams[0], StreamAnalysesMethod)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		a, err := AnalysisFromStruct(msg)
		if err != nil {
			return err
		}
		if err := fn(a); err != nil {
			return err
		}
	}
}
