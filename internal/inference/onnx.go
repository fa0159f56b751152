// internal/inference/onnx.go
package inference

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Device selects where the network executes.
type Device string

const (
	DeviceCPU         Device = "cpu"
	DeviceAccelerator Device = "accelerator"
)

// ONNXOptions configures an ONNXEngine.
type ONNXOptions struct {
	// InputName and OutputName are the graph's tensor names.
	InputName  string
	OutputName string
	// OutputDim is the number of raw outputs per sample.
	OutputDim int64
	// LibraryPath overrides the onnxruntime shared library location.
	LibraryPath string
	Device      Device
}

// ONNXEngine wraps an ONNX runtime session. The runtime is not assumed to be
// reentrant, so Run calls are serialised.
type ONNXEngine struct {
	mu        sync.Mutex
	session   *ort.DynamicAdvancedSession
	outputDim int64
	device    Device
}

// NewONNX creates an engine by loading the ONNX graph at modelPath.
// An accelerator request that the runtime cannot honour falls back to CPU;
// the returned engine's Device reports what was actually used.
func NewONNX(modelPath string, opts ONNXOptions) (*ONNXEngine, error) {
	if opts.InputName == "" {
		opts.InputName = "input"
	}
	if opts.OutputName == "" {
		opts.OutputName = "output"
	}
	if opts.OutputDim <= 0 {
		return nil, fmt.Errorf("invalid output dimension %d", opts.OutputDim)
	}

	if opts.LibraryPath != "" {
		ort.SetSharedLibraryPath(opts.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	device := DeviceCPU
	var sessionOpts *ort.SessionOptions
	if opts.Device == DeviceAccelerator {
		so, err := acceleratorOptions()
		if err == nil {
			sessionOpts = so
			device = DeviceAccelerator
			defer so.Destroy()
		}
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{opts.InputName},
		[]string{opts.OutputName},
		sessionOpts,
	)
	if err != nil && sessionOpts != nil {
		// accelerator provider present but unusable for this graph
		device = DeviceCPU
		session, err = ort.NewDynamicAdvancedSession(modelPath,
			[]string{opts.InputName}, []string{opts.OutputName}, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXEngine{
		session:   session,
		outputDim: opts.OutputDim,
		device:    device,
	}, nil
}

func acceleratorOptions() (*ort.SessionOptions, error) {
	so, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		so.Destroy()
		return nil, err
	}
	defer cuda.Destroy()
	if err := so.AppendExecutionProviderCUDA(cuda); err != nil {
		so.Destroy()
		return nil, err
	}
	return so, nil
}

// Run executes a forward pass over one batch.
func (e *ONNXEngine) Run(input []float32, shape []int64) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil, fmt.Errorf("inference session is nil")
	}
	if len(shape) == 0 || shape[0] <= 0 {
		return nil, fmt.Errorf("invalid input shape %v", shape)
	}

	expected := int64(1)
	for _, d := range shape {
		expected *= d
	}
	if int64(len(input)) != expected {
		return nil, fmt.Errorf("input has wrong size: got %d, expected %d", len(input), expected)
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(shape...), input)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	batch := shape[0]
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(batch, e.outputDim))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	err = e.session.Run(
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
	)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := make([]float32, batch*e.outputDim)
	copy(out, outputTensor.GetData())
	return out, nil
}

// Device reports the execution device actually in use.
func (e *ONNXEngine) Device() Device {
	return e.device
}

// Close releases the ONNX session resources
func (e *ONNXEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != nil {
		err := e.session.Destroy()
		e.session = nil
		if err != nil {
			return fmt.Errorf("failed to destroy session: %w", err)
		}
	}

	return ort.DestroyEnvironment()
}

// Ensure ONNXEngine implements Engine at compile time
var _ Engine = (*ONNXEngine)(nil)
