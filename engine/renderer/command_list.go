package renderer

import (
	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/bind_group_provider"
)

// CommandKind identifies a recorded command.
type CommandKind int

const (
	CommandClearBuffer CommandKind = iota
	CommandCopyBuffer
	CommandDispatch
	CommandBeginRenderPass
	CommandEndRenderPass
	CommandDrawIndexedIndirect
	CommandDrawIndexedIndirectCount
	CommandBarrier
)

// String returns a short name for logs.
func (k CommandKind) String() string {
	switch k {
	case CommandClearBuffer:
		return "clear_buffer"
	case CommandCopyBuffer:
		return "copy_buffer"
	case CommandDispatch:
		return "dispatch"
	case CommandBeginRenderPass:
		return "begin_render_pass"
	case CommandEndRenderPass:
		return "end_render_pass"
	case CommandDrawIndexedIndirect:
		return "draw_indexed_indirect"
	case CommandDrawIndexedIndirectCount:
		return "draw_indexed_indirect_count"
	case CommandBarrier:
		return "barrier"
	default:
		return "unknown"
	}
}

// LoadOp selects whether a render pass clears or keeps its depth target.
type LoadOp int

const (
	LoadOpClear LoadOp = iota
	LoadOpLoad
)

// RenderPassDesc describes a render pass. A pass without a color target renders depth only.
type RenderPassDesc struct {
	Label string

	// DepthTarget is the depth attachment. The zero handle renders without depth.
	DepthTarget common.TextureHandle

	// DepthLoad and ClearDepth control the depth attachment at pass start. Depth is
	// reverse-Z, so the far plane clears to 0.
	DepthLoad  LoadOp
	ClearDepth float32

	// ColorTarget renders into the surface texture acquired by BeginFrame.
	ColorTarget bool
	ColorLoad   LoadOp
	ClearColor  [4]float64
}

// DrawDesc describes an indirect draw.
type DrawDesc struct {
	Pipeline  string
	Geometry  bind_group_provider.BindGroupProvider
	Providers []bind_group_provider.BindGroupProvider

	Args       common.BufferHandle
	ArgsOffset uint64

	// DrawCount is the number of consecutive argument records for DrawIndexedIndirect.
	DrawCount uint32

	// Count, CountOffset and MaxDraws apply to DrawIndexedIndirectCount: the draw count is
	// min(u32 at Count+CountOffset, MaxDraws).
	Count       common.BufferHandle
	CountOffset uint64
	MaxDraws    uint32
}

// ReadbackFunc receives the bytes of a finished MapRead, or the error that stopped it.
// data is a copy owned by the callee.
type ReadbackFunc func(data []byte, err error)

// MapRequest is an asynchronous read of a MapRead buffer, started once the list that
// recorded it is submitted.
type MapRequest struct {
	Buffer       common.BufferHandle
	Offset, Size uint64
	Done         ReadbackFunc
}

// Command is one recorded command. Only the fields relevant to Kind are set.
type Command struct {
	Kind  CommandKind
	Label string

	Src, Dst             common.BufferHandle
	SrcOffset, DstOffset uint64
	Size                 uint64

	Pipeline   string
	Providers  []bind_group_provider.BindGroupProvider
	Workgroups [3]uint32

	RenderPass RenderPassDesc
	Draw       DrawDesc
}

// CommandList records GPU work for one submission. Commands execute in recording order;
// Barrier entries mark the hazards the render graph found between passes.
type CommandList struct {
	commands []Command
	maps     []MapRequest
	inPass   bool
}

// NewCommandList returns an empty command list.
func NewCommandList() *CommandList {
	return &CommandList{}
}

// ClearBuffer zeroes size bytes of buf starting at offset.
//
// Parameters:
//   - buf: the buffer to clear
//   - offset: byte offset, multiple of 4
//   - size: byte count, multiple of 4
func (c *CommandList) ClearBuffer(buf common.BufferHandle, offset, size uint64) {
	c.commands = append(c.commands, Command{Kind: CommandClearBuffer, Dst: buf, DstOffset: offset, Size: size})
}

// CopyBuffer copies size bytes between buffers.
func (c *CommandList) CopyBuffer(src common.BufferHandle, srcOffset uint64, dst common.BufferHandle, dstOffset, size uint64) {
	c.commands = append(c.commands, Command{
		Kind:      CommandCopyBuffer,
		Src:       src,
		SrcOffset: srcOffset,
		Dst:       dst,
		DstOffset: dstOffset,
		Size:      size,
	})
}

// Dispatch records a compute dispatch. providers[i] is bound as bind group i.
//
// Parameters:
//   - pipelineKey: the registered compute pipeline
//   - providers: one provider per bind group, in group order
//   - workgroups: workgroup counts in x, y and z
func (c *CommandList) Dispatch(pipelineKey string, providers []bind_group_provider.BindGroupProvider, workgroups [3]uint32) {
	c.commands = append(c.commands, Command{
		Kind:       CommandDispatch,
		Pipeline:   pipelineKey,
		Providers:  providers,
		Workgroups: workgroups,
	})
}

// BeginRenderPass opens a render pass. Draws must be recorded between BeginRenderPass and EndRenderPass.
func (c *CommandList) BeginRenderPass(desc RenderPassDesc) {
	c.inPass = true
	c.commands = append(c.commands, Command{Kind: CommandBeginRenderPass, Label: desc.Label, RenderPass: desc})
}

// EndRenderPass closes the open render pass.
func (c *CommandList) EndRenderPass() {
	c.inPass = false
	c.commands = append(c.commands, Command{Kind: CommandEndRenderPass})
}

// DrawIndexedIndirect records DrawCount consecutive indirect draws starting at ArgsOffset.
func (c *CommandList) DrawIndexedIndirect(d DrawDesc) {
	c.commands = append(c.commands, Command{Kind: CommandDrawIndexedIndirect, Pipeline: d.Pipeline, Draw: d})
}

// DrawIndexedIndirectCount records a draw whose count is read from a GPU buffer.
func (c *CommandList) DrawIndexedIndirectCount(d DrawDesc) {
	c.commands = append(c.commands, Command{Kind: CommandDrawIndexedIndirectCount, Pipeline: d.Pipeline, Draw: d})
}

// Barrier marks a dependency between the commands before and after it.
func (c *CommandList) Barrier(label string) {
	c.commands = append(c.commands, Command{Kind: CommandBarrier, Label: label})
}

// MapRead requests a read of buf once the list is submitted. done runs during a later
// Renderer.Poll, never inside Submit; if the submission fails it runs with that error.
//
// Parameters:
//   - buf: a buffer created with BufferUsageMapRead
//   - offset, size: the byte range, multiples of 4
//   - done: receives a copy of the range
func (c *CommandList) MapRead(buf common.BufferHandle, offset, size uint64, done ReadbackFunc) {
	c.maps = append(c.maps, MapRequest{Buffer: buf, Offset: offset, Size: size, Done: done})
}

// Maps returns the map requests started after submission.
func (c *CommandList) Maps() []MapRequest {
	return c.maps
}

// Commands returns the recorded commands.
func (c *CommandList) Commands() []Command {
	return c.commands
}

// Len returns the number of recorded commands and map requests.
func (c *CommandList) Len() int {
	return len(c.commands) + len(c.maps)
}

// InRenderPass reports whether a render pass is open.
func (c *CommandList) InRenderPass() bool {
	return c.inPass
}

// Reset clears the list for reuse, keeping its capacity.
func (c *CommandList) Reset() {
	c.commands = c.commands[:0]
	c.maps = c.maps[:0]
	c.inPass = false
}
