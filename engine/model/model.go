package model

import "fmt"

// model is the implementation of the Model interface.
type model struct {
	name   string
	meshes []Mesh
}

// Model is a named set of meshes sharing one transform per placement. Each mesh of each
// placement becomes one culled draw.
type Model interface {
	// Name retrieves the model identifier.
	//
	// Returns:
	//   - string: the name of the model
	Name() string

	// Meshes retrieves the meshes with their bounds filled in.
	//
	// Returns:
	//   - []Mesh: the meshes
	Meshes() []Mesh

	// VertexCount returns the vertices of all meshes.
	VertexCount() int

	// IndexCount returns the indices of all meshes.
	IndexCount() int
}

var _ Model = &model{}

// NewModel creates a new Model.
//
// Parameters:
//   - options: variadic list of ModelBuilderOption functions to configure the model
//
// Returns:
//   - Model: the newly created model
//   - error: if the model has no mesh or a mesh indexes past its vertices
func NewModel(options ...ModelBuilderOption) (Model, error) {
	m := &model{}
	for _, option := range options {
		option(m)
	}
	if len(m.meshes) == 0 {
		return nil, fmt.Errorf("model %s: no meshes", m.name)
	}
	for i := range m.meshes {
		mesh := &m.meshes[i]
		for _, idx := range mesh.Indices {
			if int(idx) >= len(mesh.Vertices) {
				return nil, fmt.Errorf("model %s: mesh %q index %d of %d vertices", m.name, mesh.Name, idx, len(mesh.Vertices))
			}
		}
		if mesh.BoundingMin == ([3]float32{}) && mesh.BoundingMax == ([3]float32{}) {
			mesh.BoundingMin, mesh.BoundingMax = ComputeBounds(mesh.Vertices)
		}
	}
	return m, nil
}

func (m *model) Name() string {
	return m.name
}

func (m *model) Meshes() []Mesh {
	return m.meshes
}

func (m *model) VertexCount() int {
	n := 0
	for _, mesh := range m.meshes {
		n += len(mesh.Vertices)
	}
	return n
}

func (m *model) IndexCount() int {
	n := 0
	for _, mesh := range m.meshes {
		n += len(mesh.Indices)
	}
	return n
}
