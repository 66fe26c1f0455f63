package loader

type settings struct {
	label     string
	workers   int
	queueSize int
}

// LoaderBuilderOption is a functional option for configuring a Loader via NewLoader.
type LoaderBuilderOption func(*settings)

// WithLabel sets the name the loader logs under. Defaults to the target label.
//
// Parameters:
//   - label: the loader name
//
// Returns:
//   - LoaderBuilderOption: a function that applies the label option to a loader
func WithLabel(label string) LoaderBuilderOption {
	return func(s *settings) {
		s.label = label
	}
}

// WithWorkers sets the size of the worker pool. Defaults to 4.
//
// Parameters:
//   - n: the maximum number of workers
//
// Returns:
//   - LoaderBuilderOption: a function that applies the worker option to a loader
func WithWorkers(n int) LoaderBuilderOption {
	return func(s *settings) {
		s.workers = n
	}
}

// WithQueueSize sets the task queue length of the pool. Request blocks while it is full.
func WithQueueSize(n int) LoaderBuilderOption {
	return func(s *settings) {
		s.queueSize = n
	}
}
