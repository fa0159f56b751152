package handler

import (
	"context"
	"encoding/base64"
	"image/color"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/SyedDaiam9101/classifier-service/internal/inference"
	"github.com/SyedDaiam9101/classifier-service/internal/predlog"
	"github.com/SyedDaiam9101/classifier-service/internal/profile"
	"github.com/SyedDaiam9101/classifier-service/internal/service"
)

const bufSize = 1024 * 1024

func startGRPC(t *testing.T, profName string, model *inference.Model) *grpc.ClientConn {
	t.Helper()
	prof, err := profile.Lookup(profName)
	require.NoError(t, err)

	svc := service.New(service.Options{
		Profile: prof,
		Model:   model,
		Log:     predlog.NewLogger(filepath.Join(t.TempDir(), "predictions.jsonl")),
	})
	srv, _ := NewGRPCServer(svc, nil, GRPCOptions{})

	lis := bufconn.Listen(bufSize)
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func invoke(ctx context.Context, conn *grpc.ClientConn, method string, req, resp any, opts ...grpc.CallOption) error {
	opts = append(opts, grpc.CallContentSubtype(CodecName))
	return conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, resp, opts...)
}

func TestGRPCPredict_Pet(t *testing.T) {
	conn := startGRPC(t, profile.CatsDogs, inference.NewLoadedModel("m.onnx", inference.NewMockWithLogits([]float32{2})))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b64 := base64.StdEncoding.EncodeToString(solidPNG(t, 32, 32, color.RGBA{G: 255, A: 255}))
	var resp PredictResponse
	var header metadata.MD
	err := invoke(ctx, conn, "Predict", &PredictRequest{Image: b64}, &resp, grpc.Header(&header))
	require.NoError(t, err)

	assert.Equal(t, 1, resp.Prediction)
	assert.Equal(t, "Dog", resp.PredictionLabel)
	assert.Equal(t, []string{"Cat", "Dog"}, resp.Labels)
	require.Len(t, resp.Probabilities, 2)
	assert.InDelta(t, 1.0, resp.Probabilities[0]+resp.Probabilities[1], 1e-9)
	assert.InDelta(t, 0.8808, resp.Confidence, 1e-4)
	assert.NotEmpty(t, header.Get("x-request-id"))
}

func TestGRPCPredict_DigitArray(t *testing.T) {
	conn := startGRPC(t, profile.MNIST, inference.NewLoadedModel("m.onnx", inference.NewMockWithLogits([]float32{0, 0, 5, 0, 0, 0, 0, 0, 0, 0})))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var resp PredictResponse
	require.NoError(t, invoke(ctx, conn, "Predict", &PredictRequest{Image: make([]float64, 784)}, &resp))
	assert.Equal(t, 2, resp.Prediction)
	assert.Len(t, resp.Probabilities, 10)

	err := invoke(ctx, conn, "Predict", &PredictRequest{Image: matrix(20, 0)}, &resp)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = invoke(ctx, conn, "Predict", &PredictRequest{}, &resp)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	var st StatsResponse
	require.NoError(t, invoke(ctx, conn, "Stats", &StatsRequest{}, &st))
	assert.Equal(t, 1, st.TotalPredictions)
	assert.Equal(t, map[string]int{"2": 1}, st.Distribution)
}

func TestGRPC_ModelNotLoaded(t *testing.T) {
	model, _ := inference.Load(inference.LoadOptions{Path: filepath.Join(t.TempDir(), "absent.onnx")})
	conn := startGRPC(t, profile.MNIST, model)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var resp PredictResponse
	err := invoke(ctx, conn, "Predict", &PredictRequest{Image: make([]float64, 784)}, &resp)
	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "Model not loaded")

	var h service.Health
	require.NoError(t, invoke(ctx, conn, "Health", &HealthRequest{}, &h))
	assert.Equal(t, "degraded", h.Status)

	hc, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, hc.GetStatus())
}

func TestGRPC_HealthServing(t *testing.T) {
	conn := startGRPC(t, profile.CatsDogs128, inference.NewLoadedModel("m.onnx", inference.NewMock(2)))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := healthpb.NewHealthClient(conn)
	for _, name := range []string{"", ServiceName} {
		hc, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: name})
		require.NoError(t, err)
		assert.Equal(t, healthpb.HealthCheckResponse_SERVING, hc.GetStatus())
	}
}

func TestGRPCError(t *testing.T) {
	assert.NoError(t, grpcError(nil))
	assert.Equal(t, codes.Unavailable, status.Code(grpcError(service.ErrModelNotLoaded)))
	assert.Equal(t, codes.InvalidArgument, status.Code(grpcError(badRequest("x"))))
	assert.Equal(t, codes.Canceled, status.Code(grpcError(context.Canceled)))
	assert.Equal(t, codes.DeadlineExceeded, status.Code(grpcError(context.DeadlineExceeded)))
	assert.Equal(t, codes.Internal, status.Code(grpcError(assert.AnError)))
}
