// pre_processor.go implements the WGSL include pre-processor. Shared GPU struct
// definitions live next to the Go types that mirror them (gpu_types.go + assets/*.wgsl)
// and are spliced into kernels with a single-line directive:
//
//	//@oxy:include <name>
//
// Include sources are registered by the package that owns the kernel, so the shader
// package never imports engine packages.
package shader

import (
	"fmt"
	"strings"
)

// includePrefix marks an include directive. The directive must be the only content on its line.
const includePrefix = "//@oxy:include"

// preProcessor is the implementation of the PreProcessor interface.
type preProcessor struct {
	includes map[string]string

	// included records which includes were expanded during the last Process call, in order.
	included []string
}

// PreProcessor expands //@oxy:include directives in WGSL source.
type PreProcessor interface {
	// Process replaces every include directive with the registered source text.
	// Each include is expanded at most once per source; repeated directives are dropped so
	// two kernels sharing a struct file can be concatenated safely.
	//
	// Parameters:
	//   - source: the raw WGSL source
	//
	// Returns:
	//   - string: the expanded source
	//   - error: if a directive is malformed or names an unknown include
	Process(source string) (string, error)

	// Included returns the include names expanded by the most recent Process call.
	//
	// Returns:
	//   - []string: include names in expansion order
	Included() []string
}

var _ PreProcessor = &preProcessor{}

// NewPreProcessor creates a PreProcessor resolving includes from the given registry.
//
// Parameters:
//   - includes: include name to WGSL source, may be nil
//
// Returns:
//   - PreProcessor: a ready-to-use pre-processor
func NewPreProcessor(includes map[string]string) PreProcessor {
	if includes == nil {
		includes = map[string]string{}
	}
	return &preProcessor{includes: includes}
}

func (p *preProcessor) Process(source string) (string, error) {
	p.included = p.included[:0]
	seen := make(map[string]bool)

	lines := strings.Split(source, "\n")
	out := make([]string, 0, len(lines))
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		rest, ok := strings.CutPrefix(trimmed, includePrefix)
		if !ok {
			out = append(out, line)
			continue
		}

		fields := strings.Fields(rest)
		if len(fields) != 1 {
			return "", fmt.Errorf("line %d: %s expects exactly one name, got %d", i+1, includePrefix, len(fields))
		}
		name := fields[0]
		src, found := p.includes[name]
		if !found {
			return "", fmt.Errorf("line %d: unknown include %q", i+1, name)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		p.included = append(p.included, name)
		out = append(out, strings.TrimRight(src, "\n"))
	}
	return strings.Join(out, "\n"), nil
}

func (p *preProcessor) Included() []string {
	return p.included
}
