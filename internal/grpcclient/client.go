package grpcclient

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/example/mammoscan/internal/classifier"
	"github.com/example/mammoscan/internal/logging"
	proto "github.com/example/mammoscan/proto"
)

// DialClassifier returns a ready-to-use gRPC client for the model service.
func DialClassifier(ctx context.Context, addr string, logger *zap.Logger) (classifier.Client, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_classifier", "", err)
		logger.Error("failed to dial classifier", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	client := proto.NewClassifierClient(conn)
	return &grpcClassifier{client: client, logger: logger}, conn, nil
}

type grpcClassifier struct {
	client proto.ClassifierClient
	logger *zap.Logger
}

func (g *grpcClassifier) Classify(ctx context.Context, requestID string, tensor []float32) (*classifier.Result, error) {
	resp, err := g.client.Classify(ctx, &proto.ClassifyRequest{RequestId: requestID, Tensor: tensor})
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.classify", requestID, err)
		g.logger.Error("classifier call failed", zap.Error(wrapped), zap.String("request_id", requestID))
		return nil, wrapped
	}
	return &classifier.Result{
		Score:        resp.GetScore(),
		ModelVersion: resp.GetModelVersion(),
	}, nil
}
