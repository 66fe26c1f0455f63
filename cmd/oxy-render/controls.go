package main

import (
	"sync"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/camera"
	"github.com/Carmen-Shannon/oxy-render/engine/config"
	"github.com/Carmen-Shannon/oxy-render/engine/window"
)

const orbitSensitivity = 0.005

// controls turns window input into camera movement on the tick goroutine and settings
// toggles on the render goroutine.
type controls struct {
	cam camera.Camera

	mu      sync.Mutex
	held    map[uint32]bool
	toggles []uint32
}

var _ window.InputHandler = &controls{}

func newControls(cam camera.Camera) *controls {
	return &controls{cam: cam, held: make(map[uint32]bool)}
}

func (c *controls) KeyDown(key uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch key {
	case common.KeyC, common.KeyO, common.KeyP:
		if !c.held[key] {
			c.toggles = append(c.toggles, key)
		}
	}
	c.held[key] = true
}

func (c *controls) KeyUp(key uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.held[key] = false
}

func (c *controls) Scroll(delta float32) {
	c.cam.Controller().Zoom(delta)
}

func (c *controls) Drag(dx, dy float32) {
	c.cam.Controller().Orbit(-dx*orbitSensitivity, dy*orbitSensitivity)
}

// tick pans the camera along the held movement keys, faster with shift.
func (c *controls) tick(dt float32) {
	c.mu.Lock()
	axis := func(pos, neg uint32) float32 {
		var v float32
		if c.held[pos] {
			v++
		}
		if c.held[neg] {
			v--
		}
		return v
	}
	right := axis(common.KeyD, common.KeyA)
	up := axis(common.KeyQ, common.KeyE)
	forward := axis(common.KeyW, common.KeyS)
	fast := c.held[common.KeyLeftShift] || c.held[common.KeyRightShift]
	c.mu.Unlock()

	if right == 0 && up == 0 && forward == 0 {
		return
	}
	step := dt * 60
	if fast {
		step *= 4
	}
	c.cam.Controller().Pan(right*step, up*step, forward*step)
}

// settingsSource is the part of the render system the toggles change.
type settingsSource interface {
	Settings() config.Settings
	SetSettings(config.Settings) error
}

// applyToggles flips the culling settings for the keys pressed since the last call.
func (c *controls) applyToggles(s settingsSource) {
	c.mu.Lock()
	keys := c.toggles
	c.toggles = nil
	c.mu.Unlock()
	if len(keys) == 0 {
		return
	}

	settings := s.Settings()
	for _, key := range keys {
		switch key {
		case common.KeyC:
			settings.Culling.Enabled = !settings.Culling.Enabled
		case common.KeyO:
			settings.Culling.Occlusion = !settings.Culling.Occlusion
		case common.KeyP:
			settings.Culling.DebugStats = !settings.Culling.DebugStats
		}
	}
	if err := s.SetSettings(settings); err != nil {
		common.Logger().Warn("settings toggle rejected", "err", err)
		return
	}
	common.Logger().Info("culling settings",
		"enabled", settings.Culling.Enabled,
		"occlusion", settings.Culling.Occlusion,
		"debug_stats", settings.Culling.DebugStats)
}
