package shader

import (
	"fmt"

	"github.com/gogpu/naga"
)

// spirvMagic is the first word of every SPIR-V module.
const spirvMagic = 0x07230203

// Validate compiles the shader's WGSL to SPIR-V with naga. The WebGPU backend compiles
// WGSL itself, so this is an early, device-free check used at pipeline registration and
// in tests.
//
// Parameters:
//   - s: the shader to validate
//
// Returns:
//   - error: the naga diagnostic, wrapped with the shader key
func Validate(s Shader) error {
	return ValidateSource(s.Key(), s.Source())
}

// ValidateSource is Validate for raw WGSL.
//
// Parameters:
//   - key: a label used in the returned error
//   - source: the WGSL source
//
// Returns:
//   - error: the naga diagnostic, or an error if the output is not a SPIR-V module
func ValidateSource(key, source string) error {
	spirv, err := naga.Compile(source)
	if err != nil {
		return fmt.Errorf("shader %s: %w", key, err)
	}
	if len(spirv) < 4 {
		return fmt.Errorf("shader %s: SPIR-V output too short (%d bytes)", key, len(spirv))
	}
	magic := uint32(spirv[0]) | uint32(spirv[1])<<8 | uint32(spirv[2])<<16 | uint32(spirv[3])<<24
	if magic != spirvMagic {
		return fmt.Errorf("shader %s: invalid SPIR-V magic 0x%08X", key, magic)
	}
	return nil
}
