// internal/inference/mock.go
package inference

import (
	"fmt"
	"sync"
)

// MockEngine is a mock implementation of Engine for testing and --mock mode.
// It returns fixed logits without requiring the ONNX shared library.
type MockEngine struct {
	mu sync.Mutex

	// Logits are the raw outputs returned for each sample in the batch
	Logits []float32
	// ShouldError if true, Run will return an error
	ShouldError bool
	// ErrorMessage is the error message to return when ShouldError is true
	ErrorMessage string
	// CallCount tracks the number of times Run was called
	CallCount int
	// Closed is set once Close has been called
	Closed bool
}

// NewMock creates a MockEngine emitting outputDim logits that favour the last class.
func NewMock(outputDim int) *MockEngine {
	logits := make([]float32, outputDim)
	for i := range logits {
		logits[i] = float32(i) * 0.5
	}
	return &MockEngine{Logits: logits}
}

// NewMockWithLogits creates a MockEngine returning the given logits
func NewMockWithLogits(logits []float32) *MockEngine {
	return &MockEngine{Logits: append([]float32(nil), logits...)}
}

// Run validates the input and returns Logits repeated for each sample in the batch.
func (m *MockEngine) Run(input []float32, shape []int64) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCount++

	if m.ShouldError {
		if m.ErrorMessage != "" {
			return nil, fmt.Errorf("%s", m.ErrorMessage)
		}
		return nil, fmt.Errorf("mock inference error")
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

	batch := int(shape[0])
	result := make([]float32, 0, batch*len(m.Logits))
	for i := 0; i < batch; i++ {
		result = append(result, m.Logits...)
	}
	return result, nil
}

// Close marks the mock closed
func (m *MockEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// SetError configures the mock to return an error on subsequent Run calls
func (m *MockEngine) SetError(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldError = true
	m.ErrorMessage = msg
}

// ClearError clears any configured error
func (m *MockEngine) ClearError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldError = false
	m.ErrorMessage = ""
}

// Calls returns CallCount under the lock.
func (m *MockEngine) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// Ensure MockEngine implements Engine at compile time
var _ Engine = (*MockEngine)(nil)
