package main

import (
	"fmt"
	"math"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/liquid"
	"github.com/Carmen-Shannon/oxy-render/engine/loader"
	"github.com/Carmen-Shannon/oxy-render/engine/model"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-render/engine/system"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	chunkSize  = 32
	waterLevel = -2
)

// hillHeight is the demo terrain: rolling hills around a basin near the origin.
func hillHeight(x, z float32) float32 {
	fx, fz := float64(x), float64(z)
	hills := 6*math.Sin(fx*0.045)*math.Cos(fz*0.05) + 2.5*math.Sin(fx*0.13+fz*0.07)
	basin := -8 * math.Exp(-(fx*fx+(fz-60)*(fz-60))/1800)
	return float32(hills + basin)
}

func demoHeightfield() loader.Heightfield {
	return loader.Heightfield{
		ChunkSize:  chunkSize,
		Resolution: 16,
		Height:     hillHeight,
		Material:   system.TerrainMaterial,
	}
}

// populate registers the demo materials and requests the crate field, the glass pillars
// and the lake.
func populate(s *system.System) error {
	s.Materials().Register(material.NewMaterial(
		material.WithName("crate"),
		material.WithBaseColor([4]float32{0.6, 0.42, 0.25, 1}),
		material.WithRoughness(0.8)))

	crate, err := model.NewModel(model.WithName("crate"), model.WithMeshes(boxMesh("crate")))
	if err != nil {
		return err
	}
	s.ModelLoader().Register(crate)

	// One request per row keeps each load small.
	for row := range 24 {
		placements := make([]model.Placement, 0, 24)
		for col := range 24 {
			x, z := float32(col-12)*12, float32(row-12)*12
			y := hillHeight(x, z)
			if y < waterLevel {
				continue
			}
			scale := 1.5 + float32((row*7+col*3)%5)*0.5
			placements = append(placements, model.Placement{Transform: model.Transform{
				Translation: [3]float32{x, y + scale/2, z},
				Scale:       [3]float32{scale, scale, scale},
			}})
		}
		if len(placements) == 0 {
			continue
		}
		if err := s.ModelLoader().Place(fmt.Sprintf("crates %d", row), "crate", placements...); err != nil {
			return err
		}
	}

	s.Materials().Register(material.NewMaterial(
		material.WithName("glass"),
		material.WithBaseColor([4]float32{0.55, 0.8, 0.9, 0.35}),
		material.WithRoughness(0.1)))
	glass, err := model.NewModel(model.WithName("glass"), model.WithMeshes(boxMesh("glass")))
	if err != nil {
		return err
	}
	s.TransparentModelLoader().Register(glass)
	pillars := make([]model.Placement, 0, 8)
	for i := range 8 {
		angle := float64(i) * math.Pi / 4
		x, z := float32(40*math.Cos(angle)), 60+float32(40*math.Sin(angle))
		pillars = append(pillars, model.Placement{Transform: model.Transform{
			Translation: [3]float32{x, hillHeight(x, z) + 4, z},
			Scale:       [3]float32{2, 8, 2},
		}})
	}
	if err := s.TransparentModelLoader().Place("glass pillars", "glass", pillars...); err != nil {
		return err
	}

	lake := make([]liquid.Patch, 0, 16)
	for pz := range 4 {
		for px := range 4 {
			origin := [3]float32{float32(px-2) * 16, waterLevel, 60 + float32(pz-2)*16}
			depths := make([]float32, 9*9)
			for j := range 9 {
				for i := range 9 {
					wx, wz := origin[0]+float32(i)*2, origin[2]+float32(j)*2
					depths[j*9+i] = max(0, waterLevel-hillHeight(wx, wz))
				}
			}
			lake = append(lake, liquid.Patch{
				TypeID:     liquid.TypeWater,
				Origin:     origin,
				Size:       [2]float32{16, 16},
				Resolution: 8,
				Depths:     depths,
				Flow:       [2]float32{0.05, 0.02},
			})
		}
	}
	return s.LiquidLoader().RequestPatches("lake", lake...)
}

// boxMesh is a unit cube with per-face normals.
func boxMesh(materialName string) model.Mesh {
	faces := []struct{ normal, u, v mgl32.Vec3 }{
		{mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0}},
		{mgl32.Vec3{-1, 0, 0}, mgl32.Vec3{0, 0, 1}, mgl32.Vec3{0, 1, 0}},
		{mgl32.Vec3{0, 1, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, -1}},
		{mgl32.Vec3{0, -1, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, 1}},
		{mgl32.Vec3{0, 0, 1}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 1, 0}},
		{mgl32.Vec3{0, 0, -1}, mgl32.Vec3{-1, 0, 0}, mgl32.Vec3{0, 1, 0}},
	}
	mesh := model.Mesh{Name: "box", Material: materialName}
	for _, f := range faces {
		base := uint32(len(mesh.Vertices))
		center := f.normal.Mul(0.5)
		for k, c := range [4][2]float32{{-0.5, -0.5}, {0.5, -0.5}, {0.5, 0.5}, {-0.5, 0.5}} {
			p := center.Add(f.u.Mul(c[0])).Add(f.v.Mul(c[1]))
			mesh.Vertices = append(mesh.Vertices, model.GPUVertex{
				Position: p,
				Normal:   f.normal,
				TexCoord: [2]float32{float32(k & 1), float32(k >> 1)},
				Color:    [4]float32{1, 1, 1, 1},
			})
		}
		mesh.Indices = append(mesh.Indices, base, base+1, base+2, base, base+2, base+3)
	}
	return mesh
}

// streamer keeps the terrain around a point requested.
type streamer struct {
	s       *system.System
	radius  int32
	cx, cz  int32
	started bool
}

func newStreamer(s *system.System, radius int32) *streamer {
	return &streamer{s: s, radius: max(1, radius)}
}

// follow requests the chunks within radius of p when p enters a new cell.
func (st *streamer) follow(p mgl32.Vec3) {
	cx := int32(math.Floor(float64(p.X() / chunkSize)))
	cz := int32(math.Floor(float64(p.Z() / chunkSize)))
	if st.started && cx == st.cx && cz == st.cz {
		return
	}
	st.started, st.cx, st.cz = true, cx, cz
	n, err := st.s.TerrainLoader().RequestArea(cx-st.radius, cz-st.radius, cx+st.radius+1, cz+st.radius+1)
	if err != nil {
		common.Logger().Warn("terrain streaming stopped", "err", err)
		return
	}
	if n > 0 {
		common.Logger().Debug("terrain chunks requested", "cell_x", cx, "cell_z", cz, "count", n)
	}
}
