package gpuvector

type vectorConfig struct {
	initialCapacity int
}

// VectorBuilderOption is a functional option applied to a Vector during construction via New.
type VectorBuilderOption func(*vectorConfig)

// WithInitialCapacity sets the CPU capacity allocated up front, and with it the size of the
// first GPU buffer.
//
// Parameters:
//   - n: capacity in elements, at least 1
//
// Returns:
//   - VectorBuilderOption: a function that applies the capacity option to a vector
func WithInitialCapacity(n int) VectorBuilderOption {
	return func(c *vectorConfig) {
		c.initialCapacity = n
	}
}
