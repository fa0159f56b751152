package handler

import (
	"context"

	"github.com/bytedance/sonic"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/SyedDaiam9101/classifier-service/internal/middleware"
	"github.com/SyedDaiam9101/classifier-service/internal/service"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "classifier.v1.Classifier"

// CodecName is the content-subtype clients must request ("application/grpc+json").
const CodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec carries plain Go structs over gRPC as JSON.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return sonic.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return sonic.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

// PredictRequest carries one input. Image is a numeric array or a base64 string;
// Canvas selects the drawing-surface pipeline for base64 input.
type PredictRequest struct {
	Image  any  `json:"image"`
	Canvas bool `json:"canvas,omitempty"`
}

// PredictResponse is the gRPC prediction envelope; labels and probabilities are parallel.
type PredictResponse struct {
	Prediction      int       `json:"prediction"`
	PredictionLabel string    `json:"prediction_label"`
	Labels          []string  `json:"labels"`
	Probabilities   []float64 `json:"probabilities"`
	Confidence      float64   `json:"confidence"`
	InferenceTimeMs float64   `json:"inference_time_ms"`
}

type StatsRequest struct{}

type StatsResponse struct {
	TotalPredictions       int            `json:"total_predictions"`
	AverageConfidence      float64        `json:"average_confidence"`
	AverageInferenceTimeMs float64        `json:"average_inference_time_ms"`
	P50InferenceTimeMs     float64        `json:"p50_inference_time_ms"`
	P95InferenceTimeMs     float64        `json:"p95_inference_time_ms"`
	P99InferenceTimeMs     float64        `json:"p99_inference_time_ms"`
	Distribution           map[string]int `json:"distribution"`
}

type HealthRequest struct{}

// ClassifierServer is the server API for the Classifier service.
type ClassifierServer interface {
	Predict(context.Context, *PredictRequest) (*PredictResponse, error)
	Stats(context.Context, *StatsRequest) (*StatsResponse, error)
	Health(context.Context, *HealthRequest) (*service.Health, error)
}

// GRPCHandler implements ClassifierServer on top of a Service.
type GRPCHandler struct {
	svc *service.Service
	log *zap.SugaredLogger
}

// NewGRPC creates a GRPCHandler.
func NewGRPC(svc *service.Service, log *zap.SugaredLogger) *GRPCHandler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &GRPCHandler{svc: svc, log: log}
}

// Predict handles a single prediction request
func (h *GRPCHandler) Predict(ctx context.Context, req *PredictRequest) (*PredictResponse, error) {
	if !h.svc.Loaded() {
		return nil, grpcError(service.ErrModelNotLoaded)
	}
	if req == nil || req.Image == nil {
		return nil, grpcError(badRequest("field 'image' is required"))
	}

	var (
		pred *service.Prediction
		err  error
	)
	switch img := req.Image.(type) {
	case string:
		if req.Canvas {
			pred, err = h.svc.PredictCanvas(ctx, img)
		} else {
			pred, err = h.svc.PredictBase64(ctx, img)
		}
	default:
		pred, err = h.svc.PredictArray(ctx, img)
	}
	if err != nil {
		h.log.Debugw("grpc prediction failed", "request_id", middleware.GetRequestID(ctx), "error", err)
		return nil, grpcError(err)
	}

	return &PredictResponse{
		Prediction:      pred.Class,
		PredictionLabel: pred.Label,
		Labels:          pred.Labels,
		Probabilities:   pred.Probabilities,
		Confidence:      pred.Confidence,
		InferenceTimeMs: pred.InferenceTimeMs,
	}, nil
}

func (h *GRPCHandler) Stats(ctx context.Context, _ *StatsRequest) (*StatsResponse, error) {
	st := h.svc.Stats()
	return &StatsResponse{
		TotalPredictions:       st.Total,
		AverageConfidence:      st.AvgConfidence,
		AverageInferenceTimeMs: st.AvgLatencyMs,
		P50InferenceTimeMs:     st.P50LatencyMs,
		P95InferenceTimeMs:     st.P95LatencyMs,
		P99InferenceTimeMs:     st.P99LatencyMs,
		Distribution:           st.Distribution,
	}, nil
}

func (h *GRPCHandler) Health(ctx context.Context, _ *HealthRequest) (*service.Health, error) {
	hl := h.svc.Health()
	return &hl, nil
}

// RegisterClassifierServer registers srv with s.
func RegisterClassifierServer(s grpc.ServiceRegistrar, srv ClassifierServer) {
	s.RegisterService(&classifierServiceDesc, srv)
}

func classifierPredictHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(PredictRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClassifierServer).Predict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Predict"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClassifierServer).Predict(ctx, req.(*PredictRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func classifierStatsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StatsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClassifierServer).Stats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Stats"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClassifierServer).Stats(ctx, req.(*StatsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func classifierHealthHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(HealthRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClassifierServer).Health(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Health"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClassifierServer).Health(ctx, req.(*HealthRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var classifierServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ClassifierServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Predict", Handler: classifierPredictHandler},
		{MethodName: "Stats", Handler: classifierStatsHandler},
		{MethodName: "Health", Handler: classifierHealthHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "classifier/v1/classifier.json",
}

// GRPCOptions configures NewGRPCServer.
type GRPCOptions struct {
	Tracing bool
}

// NewGRPCServer builds a gRPC server exposing the Classifier service, the
// standard health service and reflection. The health status reflects whether
// the model is loaded.
func NewGRPCServer(svc *service.Service, log *zap.SugaredLogger, opts GRPCOptions) (*grpc.Server, *health.Server) {
	interceptors := []grpc.UnaryServerInterceptor{
		middleware.UnaryRequestIDInterceptor(),
		middleware.UnaryMetricsInterceptor(),
	}

	serverOpts := []grpc.ServerOption{grpc.ChainUnaryInterceptor(interceptors...)}
	if opts.Tracing {
		serverOpts = append(serverOpts, grpc.StatsHandler(otelgrpc.NewServerHandler()))
	}
	grpcServer := grpc.NewServer(serverOpts...)

	RegisterClassifierServer(grpcServer, NewGRPC(svc, log))

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	SetServing(healthServer, svc.Loaded())

	reflection.Register(grpcServer)

	return grpcServer, healthServer
}

// SetServing updates both the overall and the Classifier health status.
func SetServing(hs *health.Server, serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	hs.SetServingStatus("", st)
	hs.SetServingStatus(ServiceName, st)
}
