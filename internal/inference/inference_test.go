// internal/inference/inference_test.go
package inference

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestMockEngine_Run(t *testing.T) {
	mock := NewMockWithLogits([]float32{0.1, 0.2, 0.3})

	// Batch of two 1x2x2 samples
	input := []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8}

	out, err := mock.Run(input, []int64{2, 1, 2, 2})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	expectedLen := 2 * 3 // 2 samples * 3 logits each
	if len(out) != expectedLen {
		t.Fatalf("Expected %d outputs, got %d", expectedLen, len(out))
	}

	expected := []float32{0.1, 0.2, 0.3}
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			idx := i*3 + j
			if out[idx] != expected[j] {
				t.Errorf("Output[%d] = %f, expected %f", idx, out[idx], expected[j])
			}
		}
	}

	if mock.Calls() != 1 {
		t.Errorf("Expected CallCount=1, got %d", mock.Calls())
	}
}

func TestMockEngine_RunError(t *testing.T) {
	mock := NewMock(10)
	mock.SetError("test error")

	_, err := mock.Run([]float32{0.1, 0.2, 0.3, 0.4}, []int64{1, 1, 2, 2})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if err.Error() != "test error" {
		t.Errorf("Expected 'test error', got '%s'", err.Error())
	}

	mock.ClearError()
	if _, err := mock.Run([]float32{0.1, 0.2, 0.3, 0.4}, []int64{1, 1, 2, 2}); err != nil {
		t.Errorf("Expected success after ClearError, got %v", err)
	}
}

func TestMockEngine_WrongInputSize(t *testing.T) {
	mock := NewMock(2)
	_, err := mock.Run([]float32{0.1, 0.2}, []int64{1, 1, 2, 2})
	if err == nil {
		t.Fatal("Expected error for wrong input size")
	}
}

func TestMockEngine_EmptyShape(t *testing.T) {
	mock := NewMock(2)
	if _, err := mock.Run(nil, nil); err == nil {
		t.Fatal("Expected error for empty shape")
	}
}

func TestNewMock_DefaultLogits(t *testing.T) {
	mock := NewMock(10)
	if len(mock.Logits) != 10 {
		t.Fatalf("Expected 10 logits, got %d", len(mock.Logits))
	}
	if mock.Logits[9] <= mock.Logits[0] {
		t.Errorf("Expected last logit to dominate, got %v", mock.Logits)
	}
}

func TestLoad_MissingArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.onnx")

	called := false
	m, err := Load(LoadOptions{
		Path: path,
		Factory: func(string) (Engine, Device, error) {
			called = true
			return NewMock(2), DeviceCPU, nil
		},
	})
	if m == nil {
		t.Fatal("Expected a handle even on failure")
	}
	var notFound *ModelNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Expected ModelNotFoundError, got %v", err)
	}
	if notFound.Path != path {
		t.Errorf("Expected path %s, got %s", path, notFound.Path)
	}
	if m.Loaded() {
		t.Error("Expected unloaded handle")
	}
	if called {
		t.Error("Factory must not run for a missing artifact")
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close on unloaded handle: %v", err)
	}
}

func TestLoad_FactoryError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.onnx")
	if err := os.WriteFile(path, []byte("not a graph"), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(LoadOptions{
		Path: path,
		Factory: func(string) (Engine, Device, error) {
			return nil, DeviceCPU, errors.New("bad graph")
		},
	})
	if err == nil {
		t.Fatal("Expected error from factory")
	}
	if m.Loaded() {
		t.Error("Expected unloaded handle")
	}
}

func TestLoad_Success(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.onnx")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}

	mock := NewMock(2)
	m, err := Load(LoadOptions{
		Path:   path,
		Device: DeviceAccelerator,
		Factory: func(string) (Engine, Device, error) {
			return mock, DeviceCPU, nil
		},
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !m.Loaded() {
		t.Fatal("Expected loaded handle")
	}
	if m.SizeBytes() != 10 {
		t.Errorf("Expected size 10, got %d", m.SizeBytes())
	}
	if m.Device() != DeviceCPU {
		t.Errorf("Expected factory-reported device cpu, got %s", m.Device())
	}
	if m.LoadedAt().IsZero() {
		t.Error("Expected LoadedAt to be set")
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !mock.Closed {
		t.Error("Expected engine to be closed")
	}
}

func TestNilModelIsUnloaded(t *testing.T) {
	var m *Model
	if m.Loaded() {
		t.Error("nil handle must report unloaded")
	}
	if m.Engine() != nil {
		t.Error("nil handle must have no engine")
	}
}

func TestRealInference_WithModel(t *testing.T) {
	// Skip if ONNX model or library is not available
	modelPath := "testdata/digits.onnx"
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		t.Skip("Skipping real inference test: testdata/digits.onnx not found")
	}

	engine, err := NewONNX(modelPath, ONNXOptions{OutputDim: 10})
	if err != nil {
		t.Skipf("Skipping real inference test: %v", err)
	}
	defer engine.Close()

	out, err := engine.Run(make([]float32, 784), []int64{1, 1, 28, 28})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(out) != 10 {
		t.Errorf("Expected 10 logits, got %d", len(out))
	}
}
