// internal/inference/interface.go
package inference

// Engine runs a forward pass of a loaded network.
// This abstraction allows for easy mocking in tests and swapping runtimes.
type Engine interface {
	// Run executes one forward pass.
	// input: flattened tensor data of length prod(shape)
	// shape: NCHW input shape, batch first
	// Returns the flattened raw network output (logits) for the batch.
	Run(input []float32, shape []int64) ([]float32, error)

	// Close releases any resources held by the engine.
	Close() error
}
