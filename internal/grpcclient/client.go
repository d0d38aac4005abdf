// Package grpcclient talks to the model-serving process that hosts the face
// locator, the face embedder and the object detector.
package grpcclient

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/faceauth/internal/imageprocessor"
	"github.com/example/faceauth/internal/logging"
)

// ServiceName is the fully qualified gRPC service exposed by the model server.
const ServiceName = "faceauth.models.v1.ModelService"

const (
	methodLocateFace    = "/" + ServiceName + "/LocateFace"
	methodEmbedFace     = "/" + ServiceName + "/EmbedFace"
	methodDetectObjects = "/" + ServiceName + "/DetectObjects"
)

// ModelClient implements the imageprocessor model contracts over one gRPC
// connection. Requests carry the encoded image bytes; responses are
// google.protobuf.Struct documents.
type ModelClient struct {
	conn   *grpc.ClientConn
	addr   string
	logger *zap.Logger
}

// Dial returns a ready-to-use client for the model server at addr.
func Dial(ctx context.Context, addr string, timeout time.Duration, logger *zap.Logger, opts ...grpc.DialOption) (*ModelClient, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)
	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_model_server", "", err)
		logger.Error("failed to dial model server", zap.Error(wrapped), zap.String("addr", addr))
		return nil, wrapped
	}
	return &ModelClient{conn: conn, addr: addr, logger: logger.Named("grpcclient")}, nil
}

// Close releases the underlying connection.
func (c *ModelClient) Close() error {
	return c.conn.Close()
}

// LocateFace implements imageprocessor.FaceLocator.
func (c *ModelClient) LocateFace(ctx context.Context, img *imageprocessor.Image) (*imageprocessor.FaceDetection, error) {
	resp, err := c.invoke(ctx, methodLocateFace, img)
	if err != nil {
		return nil, err
	}
	return parseFaceDetection(resp)
}

// EmbedFace implements imageprocessor.FaceEmbedder.
func (c *ModelClient) EmbedFace(ctx context.Context, img *imageprocessor.Image) (imageprocessor.Embedding, error) {
	resp, err := c.invoke(ctx, methodEmbedFace, img)
	if err != nil {
		return nil, err
	}
	return parseEmbedding(resp)
}

// DetectObjects implements imageprocessor.ObjectDetector.
func (c *ModelClient) DetectObjects(ctx context.Context, img *imageprocessor.Image) ([]imageprocessor.ObjectDetection, error) {
	resp, err := c.invoke(ctx, methodDetectObjects, img)
	if err != nil {
		return nil, err
	}
	return parseDetections(resp)
}

func (c *ModelClient) invoke(ctx context.Context, method string, img *imageprocessor.Image) (*structpb.Struct, error) {
	if img == nil {
		return nil, fmt.Errorf("%s: nil image", method)
	}
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, wrapperspb.Bytes(img.Data), resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.invoke", "", err)
		c.logger.Error("model call failed", zap.Error(wrapped), zap.String("method", method), zap.String("addr", c.addr))
		return nil, wrapped
	}
	return resp, nil
}

func parseFaceDetection(resp *structpb.Struct) (*imageprocessor.FaceDetection, error) {
	fields := resp.GetFields()
	if !fields["detected"].GetBoolValue() {
		return nil, nil
	}
	rel, err := parseBox(fields)
	if err != nil {
		return nil, err
	}
	return &imageprocessor.FaceDetection{
		RelativeBox: rel,
		Confidence:  fields["confidence"].GetNumberValue(),
	}, nil
}

func parseEmbedding(resp *structpb.Struct) (imageprocessor.Embedding, error) {
	values := resp.GetFields()["embedding"].GetListValue().GetValues()
	if len(values) == 0 {
		return nil, nil
	}
	embedding := make(imageprocessor.Embedding, len(values))
	for i, v := range values {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("embedding[%d] is not a number", i)
		}
		embedding[i] = n.NumberValue
	}
	return embedding, nil
}

func parseDetections(resp *structpb.Struct) ([]imageprocessor.ObjectDetection, error) {
	values := resp.GetFields()["detections"].GetListValue().GetValues()
	detections := make([]imageprocessor.ObjectDetection, 0, len(values))
	for i, v := range values {
		fields := v.GetStructValue().GetFields()
		if fields == nil {
			return nil, fmt.Errorf("detections[%d] is not an object", i)
		}
		if _, ok := fields["class_id"]; !ok {
			return nil, fmt.Errorf("detections[%d] has no class_id", i)
		}
		b, err := parseBox(fields)
		if err != nil {
			return nil, fmt.Errorf("detections[%d]: %w", i, err)
		}
		detections = append(detections, imageprocessor.ObjectDetection{
			ClassID:    int(fields["class_id"].GetNumberValue()),
			Confidence: fields["confidence"].GetNumberValue(),
			Box:        b,
		})
	}
	return detections, nil
}

func parseBox(fields map[string]*structpb.Value) (imageprocessor.BoundingBox, error) {
	for _, key := range []string{"x", "y", "width", "height"} {
		if _, ok := fields[key].GetKind().(*structpb.Value_NumberValue); !ok {
			return imageprocessor.BoundingBox{}, fmt.Errorf("box field %q missing", key)
		}
	}
	return imageprocessor.BoundingBox{
		X:      fields["x"].GetNumberValue(),
		Y:      fields["y"].GetNumberValue(),
		Width:  fields["width"].GetNumberValue(),
		Height: fields["height"].GetNumberValue(),
	}, nil
}
