package culling

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer"
)

// ViewCounts holds one counter per view.
type ViewCounts struct {
	Draws     []uint32
	Triangles []uint32
}

// Stats is the counter readback of one frame.
type Stats struct {
	Occluder ViewCounts
	Geometry ViewCounts
}

// Total returns the draws and triangles summed over both targets and all views.
func (s Stats) Total() (draws, triangles uint64) {
	for _, vc := range []ViewCounts{s.Occluder, s.Geometry} {
		for i := range vc.Draws {
			draws += uint64(vc.Draws[i])
			triangles += uint64(vc.Triangles[i])
		}
	}
	return draws, triangles
}

// statsSlot follows one frame's readback buffers from the clear in SyncToGPU, through the
// copies and the map requested after submit, to the Update that decodes them.
type statsSlot struct {
	frame uint64

	// recording is set while this frame's passes may write into the slot.
	recording bool
	requested [targetCount]bool

	// pending counts the maps not yet delivered. The buffers must not be written meanwhile.
	pending int
	failed  bool
	ready   bool
	raw     [targetCount][]byte
}

func (res *Resources) counterBytes() uint64 {
	return uint64(res.numViews) * 2 * 4
}

// SetCollectStats turns the counter readback on or off. Stats keeps the last readback
// while collection is off.
func (res *Resources) SetCollectStats(enabled bool) {
	res.stats = enabled
}

// CollectStats reports whether counters are read back.
func (res *Resources) CollectStats() bool {
	return res.stats
}

// Stats returns the newest counters delivered to Update.
func (res *Resources) Stats() Stats {
	res.statsMu.Lock()
	defer res.statsMu.Unlock()
	return res.lastStats
}

// beginStats clears this frame's readback slot for the passes to fill and totals the
// loaded draws for passes that bypass culling. A slot whose map is still in flight is
// left alone and the frame goes unrecorded.
func (res *Resources) beginStats() error {
	slot := &res.statsSlots[res.frameIndex]
	res.statsMu.Lock()
	if !res.stats || slot.pending > 0 {
		slot.recording = false
		res.statsMu.Unlock()
		return nil
	}
	*slot = statsSlot{frame: res.frame, recording: true}
	res.statsMu.Unlock()

	zeros := make([]byte, res.counterBytes())
	for _, ft := range res.targets {
		if err := res.r.WriteBuffer(ft.readback[res.frameIndex], 0, zeros); err != nil {
			return fmt.Errorf("culling %s: clear readback: %w", res.label, err)
		}
	}

	var draws, triangles uint32
	for _, a := range res.drawCalls.Slice()[:res.synced] {
		if a.InstanceCount == 0 {
			continue
		}
		draws++
		triangles += a.IndexCount / 3 * a.InstanceCount
	}
	res.syncedTotals = [2]uint32{draws, triangles}
	return nil
}

// recordingStats reports whether the current frame's passes write counters.
func (res *Resources) recordingStats() bool {
	res.statsMu.Lock()
	defer res.statsMu.Unlock()
	return res.statsSlots[res.frameIndex].recording
}

// requestStats asks for the map of a target's readback buffer once the frame's commands
// are submitted. Later copies into the buffer land in the same submission, so one request
// per target covers every view.
func (res *Resources) requestStats(cl *renderer.CommandList, t Target) {
	index := res.frameIndex
	res.statsMu.Lock()
	defer res.statsMu.Unlock()
	slot := &res.statsSlots[index]
	if !slot.recording || slot.requested[t] {
		return
	}
	slot.requested[t] = true
	slot.pending++
	cl.MapRead(res.targets[t].readback[index], 0, res.counterBytes(), func(data []byte, err error) {
		res.deliverStats(index, t, data, err)
	})
}

func (res *Resources) deliverStats(index int, t Target, data []byte, err error) {
	res.statsMu.Lock()
	defer res.statsMu.Unlock()
	slot := &res.statsSlots[index]
	slot.pending--
	if err != nil {
		common.Logger().Warn("culling stats readback failed", "label", res.label, "target", t.String(), "err", err)
		slot.failed = true
	} else {
		slot.raw[t] = data
	}
	if slot.pending == 0 && !slot.failed {
		slot.recording = false
		slot.ready = true
	}
}

// consumeStats decodes the newest delivered slot. Older delivered slots are dropped.
func (res *Resources) consumeStats() {
	res.statsMu.Lock()
	defer res.statsMu.Unlock()
	var newest *statsSlot
	for i := range res.statsSlots {
		slot := &res.statsSlots[i]
		if !slot.ready {
			continue
		}
		if newest == nil || slot.frame > newest.frame {
			newest = slot
		}
		slot.ready = false
	}
	if newest == nil {
		return
	}
	res.lastStats = Stats{
		Occluder: res.decodeCounts(newest.raw[TargetOccluder]),
		Geometry: res.decodeCounts(newest.raw[TargetGeometry]),
	}
}

// decodeCounts splits a readback into its per-view counters. A target that drew nothing
// that frame was never mapped and counts zero.
func (res *Resources) decodeCounts(raw []byte) ViewCounts {
	counts := make([]uint32, 2*res.numViews)
	copy(counts, common.BytesToSlice[uint32](raw))
	return ViewCounts{Draws: counts[:res.numViews], Triangles: counts[res.numViews:]}
}
