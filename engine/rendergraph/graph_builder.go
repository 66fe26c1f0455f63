package rendergraph

// GraphBuilderOption is a functional option applied to a Graph during construction via NewGraph.
type GraphBuilderOption func(*Graph)

// WithLabel sets the label used in logs and errors.
func WithLabel(label string) GraphBuilderOption {
	return func(g *Graph) {
		g.label = label
	}
}
