package liquid

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-render/engine/renderer/material"
)

// Built-in liquid types.
const (
	TypeWater uint32 = iota + 1
	TypeOcean
	TypeMagma
	TypeSlime
)

// Type describes how one liquid type is drawn.
type Type struct {
	Name     string
	Material string
	Opacity  float32
}

// Types maps liquid type ids to their description. It is safe for concurrent use.
type Types struct {
	mu    sync.RWMutex
	types map[uint32]Type
}

// NewTypes creates an empty registry.
func NewTypes() *Types {
	return &Types{types: make(map[uint32]Type)}
}

// DefaultTypes returns a registry of the built-in types and registers their materials in
// table, when table is not nil.
func DefaultTypes(table *material.Table) *Types {
	t := NewTypes()
	defaults := []struct {
		id    uint32
		typ   Type
		color [4]float32
	}{
		{TypeWater, Type{Name: "water", Material: "liquid_water", Opacity: 0.6}, [4]float32{0.15, 0.35, 0.6, 1}},
		{TypeOcean, Type{Name: "ocean", Material: "liquid_ocean", Opacity: 0.75}, [4]float32{0.05, 0.2, 0.4, 1}},
		{TypeMagma, Type{Name: "magma", Material: "liquid_magma", Opacity: 1}, [4]float32{1, 0.35, 0.05, 1}},
		{TypeSlime, Type{Name: "slime", Material: "liquid_slime", Opacity: 0.85}, [4]float32{0.3, 0.8, 0.2, 1}},
	}
	for _, d := range defaults {
		t.Register(d.id, d.typ)
		if table != nil {
			table.Register(material.NewMaterial(
				material.WithName(d.typ.Material),
				material.WithBaseColor(d.color),
				material.WithRoughness(0.1)))
		}
	}
	return t
}

// Register adds or replaces a type.
func (t *Types) Register(id uint32, typ Type) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.types[id] = typ
}

// Lookup returns the type registered under id.
func (t *Types) Lookup(id uint32) (Type, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	typ, ok := t.types[id]
	return typ, ok
}

// resolve returns the type of id. An unknown id gets a material name no table holds, so
// the draw falls back to the debug material with a warning.
func (t *Types) resolve(id uint32) Type {
	if typ, ok := t.Lookup(id); ok {
		return typ
	}
	return Type{Name: "unknown", Material: fmt.Sprintf("liquid_type_%d", id), Opacity: 1}
}
