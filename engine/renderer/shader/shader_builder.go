package shader

// ShaderBuilderOption is a functional option applied by NewShader.
type ShaderBuilderOption func(*shader)

// WithIncludes registers the sources available to //@oxy:include directives.
//
// Parameters:
//   - includes: include name to WGSL source
//
// Returns:
//   - ShaderBuilderOption: the option
func WithIncludes(includes map[string]string) ShaderBuilderOption {
	return func(s *shader) {
		s.includes = includes
	}
}
