package material

// MaterialBuilderOption is a function that configures a material instance during construction.
type MaterialBuilderOption func(*material)

// WithName is an option builder that sets the name of the material.
//
// Parameters:
//   - name: the identifier for the material
//
// Returns:
//   - MaterialBuilderOption: a function that applies the name option to a material
func WithName(name string) MaterialBuilderOption {
	return func(m *material) {
		m.name = name
	}
}

// WithBaseColor is an option builder that sets the albedo RGBA color of the material.
//
// Parameters:
//   - color: the base color as RGBA float32 values
//
// Returns:
//   - MaterialBuilderOption: a function that applies the base color option to a material
func WithBaseColor(color [4]float32) MaterialBuilderOption {
	return func(m *material) {
		m.baseColor = color
	}
}

// WithMetallic sets the metallic factor, clamped to [0, 1].
func WithMetallic(metallic float32) MaterialBuilderOption {
	return func(m *material) {
		m.metallic = min(max(metallic, 0), 1)
	}
}

// WithRoughness sets the roughness factor, clamped to [0, 1].
func WithRoughness(roughness float32) MaterialBuilderOption {
	return func(m *material) {
		m.roughness = min(max(roughness, 0), 1)
	}
}
