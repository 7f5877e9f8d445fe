// Package runner owns one loaded accelerator engine per model: its
// device buffers, shared across every pooled execution context, and
// the blocking Infer entry point that serializes data-plane access
// through the context pool's checkout discipline.
package runner

import (
	"context"
	"fmt"
	"os"

	"github.com/KarunKarguz/edge-infer-gateway/internal/backend"
	"github.com/KarunKarguz/edge-infer-gateway/pkg/types"
)

// execContext pairs one backend Context with its own Queue; its index
// in Runner.contexts is the slot index the Runner's pool hands out.
type execContext struct {
	ctx   backend.Context
	queue backend.Queue
}

// Runner is the runtime handle for one loaded model: one shared
// engine, its input/output binding set (fixed at load time), and a
// pool of execution contexts. Device buffers are shared across all
// pooled contexts; the pool checkout protocol is what keeps concurrent
// Infer calls from stepping on each other's device-buffer writes.
type Runner struct {
	modelID string
	runtime backend.Runtime
	engine  backend.Engine

	inputs  []backend.EngineDesc
	outputs []backend.EngineDesc
	// deviceBufs is parallel to engine.Bindings(): one shared buffer
	// per declared binding, in engine-native order.
	deviceBufs []backend.DevicePtr

	contexts []execContext
	pool     *ctxPool
}

// Load reads the engine artifact from disk, constructs it via rt,
// allocates one shared device buffer per binding, and creates
// concurrency execution contexts each paired with a fresh queue.
// Failure at any step unwinds everything already acquired, in strict
// reverse order: contexts, then queues, then device buffers, then
// engine, then runtime.
func Load(modelID string, cfg types.ModelConfig, newRuntime backend.RuntimeFactory) (*Runner, error) {
	if cfg.Concurrency < 1 {
		return nil, &LoadError{ModelID: modelID, Err: fmt.Errorf("concurrency must be >= 1, got %d", cfg.Concurrency)}
	}

	blob, err := os.ReadFile(cfg.EnginePath)
	if err != nil {
		return nil, &LoadError{ModelID: modelID, Err: fmt.Errorf("read engine file: %w", err)}
	}

	rt, err := newRuntime()
	if err != nil {
		return nil, &LoadError{ModelID: modelID, Err: fmt.Errorf("create runtime: %w", err)}
	}

	engine, err := rt.LoadEngine(blob)
	if err != nil {
		rt.Close()
		return nil, &LoadError{ModelID: modelID, Err: fmt.Errorf("load engine: %w", err)}
	}

	r := &Runner{modelID: modelID, runtime: rt, engine: engine}

	bindings := engine.Bindings()
	r.deviceBufs = make([]backend.DevicePtr, len(bindings))
	for i, b := range bindings {
		buf, err := engine.DeviceAlloc(b.ByteLen())
		if err != nil {
			r.unwindBuffers(i)
			engine.Close()
			rt.Close()
			return nil, &LoadError{ModelID: modelID, Err: fmt.Errorf("device alloc %q: %w", b.Name, err)}
		}
		r.deviceBufs[i] = buf
		if b.IsInput {
			r.inputs = append(r.inputs, b)
		} else {
			r.outputs = append(r.outputs, b)
		}
	}

	r.contexts = make([]execContext, 0, cfg.Concurrency)
	for i := 0; i < cfg.Concurrency; i++ {
		ctx, err := engine.CreateContext()
		if err != nil {
			r.unwindContexts()
			r.unwindBuffers(len(bindings))
			engine.Close()
			rt.Close()
			return nil, &LoadError{ModelID: modelID, Err: fmt.Errorf("create context %d: %w", i, err)}
		}
		q, err := engine.NewQueue()
		if err != nil {
			ctx.Close()
			r.unwindContexts()
			r.unwindBuffers(len(bindings))
			engine.Close()
			rt.Close()
			return nil, &LoadError{ModelID: modelID, Err: fmt.Errorf("create queue %d: %w", i, err)}
		}
		r.contexts = append(r.contexts, execContext{ctx: ctx, queue: q})
	}

	r.pool = newCtxPool(cfg.Concurrency)
	return r, nil
}

func (r *Runner) unwindBuffers(n int) {
	for i := 0; i < n; i++ {
		if r.deviceBufs[i] != nil {
			r.engine.DeviceFree(r.deviceBufs[i])
		}
	}
}

func (r *Runner) unwindContexts() {
	for i := len(r.contexts) - 1; i >= 0; i-- {
		r.contexts[i].ctx.Close()
		r.contexts[i].queue.Close()
	}
	r.contexts = nil
}

// Inputs returns the Runner's declared input bindings, in engine
// native order restricted to inputs.
func (r *Runner) Inputs() []backend.EngineDesc { return r.inputs }

// Outputs returns the Runner's declared output bindings.
func (r *Runner) Outputs() []backend.EngineDesc { return r.outputs }

// Infer runs one inference call: checkout a context, copy each host
// input into the shared device buffer, enqueue execution, copy each
// device output back into the caller's host buffer, synchronize, and
// check the context back in. Safe to call from many goroutines
// concurrently; concurrent calls serialize on pool checkout because
// all contexts share one set of device buffers.
//
// hostInputs and hostOutputs must have the same length as
// Inputs()/Outputs(), and each buffer must hold at least its binding's
// byte length; any violation is an IOShapeMismatch InferError and
// never touches the backend.
func (r *Runner) Infer(ctx context.Context, hostInputs [][]byte, hostOutputs [][]byte) error {
	if len(hostInputs) != len(r.inputs) {
		return ioShapeMismatch(fmt.Sprintf("got %d inputs, want %d", len(hostInputs), len(r.inputs)))
	}
	if len(hostOutputs) != len(r.outputs) {
		return ioShapeMismatch(fmt.Sprintf("got %d outputs, want %d", len(hostOutputs), len(r.outputs)))
	}
	for i, b := range r.inputs {
		if len(hostInputs[i]) < b.ByteLen() {
			return ioShapeMismatch(fmt.Sprintf("input %q: got %d bytes, want >= %d", b.Name, len(hostInputs[i]), b.ByteLen()))
		}
	}
	for i, b := range r.outputs {
		if len(hostOutputs[i]) < b.ByteLen() {
			return ioShapeMismatch(fmt.Sprintf("output %q: got %d bytes, want >= %d", b.Name, len(hostOutputs[i]), b.ByteLen()))
		}
	}

	idx, err := r.pool.checkoutCtx(ctx)
	if err != nil {
		return err
	}
	ec := r.contexts[idx]

	bindings := r.engine.Bindings()
	inOrd, outOrd := 0, 0
	for i, b := range bindings {
		if b.IsInput {
			if err := r.engine.CopyHostToDeviceAsync(r.deviceBufs[i], hostInputs[inOrd], ec.queue); err != nil {
				r.pool.checkin(idx)
				return &InferError{Kind: KindEnqueueFailed, Err: err}
			}
			inOrd++
		} else {
			outOrd++
		}
	}

	if err := ec.ctx.Enqueue(r.deviceBufs, ec.queue); err != nil {
		r.pool.checkin(idx)
		return &InferError{Kind: KindEnqueueFailed, Err: err}
	}

	outOrd = 0
	for i, b := range bindings {
		if b.IsInput {
			continue
		}
		if err := r.engine.CopyDeviceToHostAsync(hostOutputs[outOrd], r.deviceBufs[i], ec.queue); err != nil {
			r.pool.checkin(idx)
			return &InferError{Kind: KindEnqueueFailed, Err: err}
		}
		outOrd++
	}

	if err := ec.queue.Synchronize(); err != nil {
		r.pool.checkin(idx)
		return &InferError{Kind: KindSyncFailed, Err: err}
	}

	r.pool.checkin(idx)
	return nil
}

// Close releases all resources owned by the Runner in strict reverse
// order of acquisition: contexts, then queues (paired per-context
// above), then device buffers, then the engine, then the runtime.
func (r *Runner) Close() error {
	r.unwindContexts()
	for _, buf := range r.deviceBufs {
		if buf != nil {
			r.engine.DeviceFree(buf)
		}
	}
	if err := r.engine.Close(); err != nil {
		return err
	}
	return r.runtime.Close()
}
