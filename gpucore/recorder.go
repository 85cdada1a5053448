package gpucore

import "fmt"

// CommandKind identifies a recorded command.
type CommandKind uint8

// Recorded command kinds.
const (
	CommandBeginComputePass CommandKind = iota + 1
	CommandSetPipeline
	CommandSetBindGroup
	CommandDispatch
	CommandEndComputePass
	CommandCopyBufferToBuffer
)

// BufferCopy describes a buffer-to-buffer copy.
type BufferCopy struct {
	Src       BufferID
	SrcOffset uint64
	Dst       BufferID
	DstOffset uint64
	Size      uint64
}

// Command is one recorded command. Only the fields relevant to Kind are set.
type Command struct {
	Kind      CommandKind
	Label     string
	Pipeline  ComputePipelineID
	Index     uint32
	BindGroup BindGroupID
	X, Y, Z   uint32
	Copy      BufferCopy
}

// CommandList is the result of recording with a Recorder.
type CommandList struct {
	Label    string
	Commands []Command

	// Err is the first encoder-state error, empty when recording was valid.
	Err string
}

// Recorder is a CommandEncoder that records commands into a CommandList
// for a backend to validate and replay. Backends supply the finish
// callback that turns the list into a command buffer ID.
//
// A Recorder is not safe for concurrent use.
type Recorder struct {
	list     CommandList
	inPass   bool
	finished bool
	finish   func(*CommandList) CommandBufferID
}

// NewRecorder returns a recorder that hands its list to finish.
func NewRecorder(label string, finish func(*CommandList) CommandBufferID) *Recorder {
	return &Recorder{
		list:   CommandList{Label: label},
		finish: finish,
	}
}

func (r *Recorder) fail(format string, args ...any) {
	if r.list.Err == "" {
		r.list.Err = fmt.Sprintf(format, args...)
	}
}

func (r *Recorder) push(c Command) {
	if r.finished {
		r.fail("command encoder %q used after Finish", r.list.Label)
		return
	}
	r.list.Commands = append(r.list.Commands, c)
}

// BeginComputePass implements CommandEncoder.
func (r *Recorder) BeginComputePass(label string) ComputePassEncoder {
	if r.inPass {
		r.fail("compute pass %q begun while another pass is open", label)
	}
	r.inPass = true
	r.push(Command{Kind: CommandBeginComputePass, Label: label})
	return &passRecorder{r: r}
}

// CopyBufferToBuffer implements CommandEncoder.
func (r *Recorder) CopyBufferToBuffer(src BufferID, srcOffset uint64, dst BufferID, dstOffset uint64, size uint64) {
	if r.inPass {
		r.fail("copy recorded while a compute pass is open")
	}
	r.push(Command{Kind: CommandCopyBufferToBuffer, Copy: BufferCopy{
		Src: src, SrcOffset: srcOffset, Dst: dst, DstOffset: dstOffset, Size: size,
	}})
}

// Finish implements CommandEncoder.
func (r *Recorder) Finish() CommandBufferID {
	if r.finished {
		r.fail("command encoder %q finished twice", r.list.Label)
	}
	if r.inPass {
		r.fail("command encoder %q finished with an open compute pass", r.list.Label)
	}
	r.finished = true
	list := r.list
	return r.finish(&list)
}

// passRecorder records into its parent Recorder.
type passRecorder struct {
	r     *Recorder
	ended bool
}

func (p *passRecorder) record(c Command) {
	if p.ended {
		p.r.fail("compute pass used after End")
		return
	}
	p.r.push(c)
}

func (p *passRecorder) SetPipeline(pipeline ComputePipelineID) {
	p.record(Command{Kind: CommandSetPipeline, Pipeline: pipeline})
}

func (p *passRecorder) SetBindGroup(index uint32, group BindGroupID) {
	p.record(Command{Kind: CommandSetBindGroup, Index: index, BindGroup: group})
}

func (p *passRecorder) DispatchWorkgroups(x, y, z uint32) {
	p.record(Command{Kind: CommandDispatch, X: x, Y: y, Z: z})
}

func (p *passRecorder) End() {
	p.record(Command{Kind: CommandEndComputePass})
	p.ended = true
	p.r.inPass = false
}
