// internal/inference/model.go
package inference

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// ModelNotFoundError is returned when the configured artifact path does not exist.
type ModelNotFoundError struct {
	Path string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("model file not found at %s", e.Path)
}

// Model is the handle to a loaded network. It is created once at startup and not
// mutated afterwards, so concurrent readers need no locking. A handle whose load
// failed still exists with Loaded() == false.
type Model struct {
	path      string
	device    Device
	engine    Engine
	sizeBytes int64
	loadedAt  time.Time
}

// EngineFactory builds an Engine for an artifact that is known to exist.
type EngineFactory func(path string) (Engine, Device, error)

// LoadOptions configures Load.
type LoadOptions struct {
	Path    string
	Device  Device
	Factory EngineFactory
}

// Load resolves the artifact at opts.Path and builds its engine. It always returns a
// non-nil handle; on failure the handle is unloaded and the error says why.
func Load(opts LoadOptions) (*Model, error) {
	m := &Model{path: opts.Path, device: opts.Device}
	if m.device == "" {
		m.device = DeviceCPU
	}

	info, err := os.Stat(opts.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return m, &ModelNotFoundError{Path: opts.Path}
		}
		return m, fmt.Errorf("stat model %s: %w", opts.Path, err)
	}
	if info.IsDir() {
		return m, fmt.Errorf("model path %s is a directory", opts.Path)
	}
	if opts.Factory == nil {
		return m, fmt.Errorf("no engine factory configured")
	}

	engine, device, err := opts.Factory(opts.Path)
	if err != nil {
		return m, fmt.Errorf("load model %s: %w", opts.Path, err)
	}

	m.engine = engine
	m.device = device
	m.sizeBytes = info.Size()
	m.loadedAt = time.Now().UTC()
	return m, nil
}

// ONNXFactory returns an EngineFactory backed by ONNXEngine.
func ONNXFactory(opts ONNXOptions) EngineFactory {
	return func(path string) (Engine, Device, error) {
		e, err := NewONNX(path, opts)
		if err != nil {
			return nil, DeviceCPU, err
		}
		return e, e.Device(), nil
	}
}

// NewLoadedModel wraps an already constructed engine, e.g. a mock.
func NewLoadedModel(path string, engine Engine) *Model {
	return &Model{
		path:     path,
		device:   DeviceCPU,
		engine:   engine,
		loadedAt: time.Now().UTC(),
	}
}

// Loaded reports whether the handle carries a usable engine.
func (m *Model) Loaded() bool {
	return m != nil && m.engine != nil
}

// Engine returns the underlying engine, or nil when unloaded.
func (m *Model) Engine() Engine {
	if m == nil {
		return nil
	}
	return m.engine
}

func (m *Model) Path() string {
	if m == nil {
		return ""
	}
	return m.path
}

func (m *Model) Device() Device {
	if m == nil {
		return DeviceCPU
	}
	return m.device
}

// SizeBytes is the artifact size on disk, zero when unloaded.
func (m *Model) SizeBytes() int64 {
	if m == nil {
		return 0
	}
	return m.sizeBytes
}

func (m *Model) LoadedAt() time.Time {
	if m == nil {
		return time.Time{}
	}
	return m.loadedAt
}

// Close releases the engine.
func (m *Model) Close() error {
	if !m.Loaded() {
		return nil
	}
	return m.engine.Close()
}
