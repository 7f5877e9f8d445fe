package backend

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// bindingSpec and engineSpec describe the YAML-equivalent mapping read
// from a ModelConfig.EnginePath file. The real accelerator runtime
// would deserialize a vendor-specific artifact (a TensorRT plan, an
// ONNX Runtime session) and enumerate its bindings natively; this
// in-memory backend is the deterministic stand-in used when no such
// vendor SDK is wired, and it reads the engine file as a small YAML
// descriptor instead.
type bindingSpec struct {
	Name      string  `yaml:"name"`
	Direction string  `yaml:"direction"`
	DType     string  `yaml:"dtype"`
	Shape     []int32 `yaml:"shape"`
}

type engineSpec struct {
	Bindings []bindingSpec `yaml:"bindings"`
	// ComputeDelayMS simulates on-device compute latency inside
	// Enqueue, used to exercise pool checkout fairness under
	// contention in tests.
	ComputeDelayMS int  `yaml:"compute_delay_ms"`
	FailEnqueue    bool `yaml:"fail_enqueue"`
}

func dtypeSize(s string) (int, error) {
	switch s {
	case "fp32", "int32":
		return 4, nil
	case "fp16":
		return 2, nil
	case "int8":
		return 1, nil
	default:
		return 0, fmt.Errorf("backend: unknown dtype %q", s)
	}
}

// MemoryRuntime is the default Runtime implementation: it loads an
// engine descriptor from YAML bytes instead of a vendor binary blob,
// and executes inference by writing a deterministic fixture into each
// output buffer. It exists so the gateway is runnable and testable
// without a proprietary accelerator SDK in the dependency graph.
type MemoryRuntime struct {
	// onEnqueueStart and onEnqueueEnd, if set, are called around the
	// simulated compute window (start before the injected delay, end
	// after the outputs are filled), used by runner package tests to
	// directly observe pool concurrency rather than inferring it from
	// call latency.
	onEnqueueStart func()
	onEnqueueEnd   func()
}

// NewMemoryRuntime constructs the default in-memory backend runtime.
func NewMemoryRuntime() *MemoryRuntime { return &MemoryRuntime{} }

// NewMemoryRuntimeWithHooks constructs a MemoryRuntime that invokes
// start/end immediately before and after each simulated compute
// window, letting tests sample exactly how many Infer calls are
// concurrently between checkout and checkin.
func NewMemoryRuntimeWithHooks(start, end func()) *MemoryRuntime {
	return &MemoryRuntime{onEnqueueStart: start, onEnqueueEnd: end}
}

func (r *MemoryRuntime) Close() error { return nil }

func (r *MemoryRuntime) LoadEngine(blob []byte) (Engine, error) {
	var spec engineSpec
	if err := yaml.Unmarshal(blob, &spec); err != nil {
		return nil, fmt.Errorf("backend: parse engine descriptor: %w", err)
	}
	descs := make([]EngineDesc, 0, len(spec.Bindings))
	for _, b := range spec.Bindings {
		sz, err := dtypeSize(b.DType)
		if err != nil {
			return nil, err
		}
		descs = append(descs, EngineDesc{
			Name:      b.Name,
			IsInput:   b.Direction == "input",
			DTypeSize: sz,
			Shape:     b.Shape,
		})
	}
	return &memoryEngine{
		descs:        descs,
		computeDelay: time.Duration(spec.ComputeDelayMS) * time.Millisecond,
		failEnqueue:  spec.FailEnqueue,
		onStart:      r.onEnqueueStart,
		onEnd:        r.onEnqueueEnd,
	}, nil
}

type memBuf struct{ data []byte }

type memoryEngine struct {
	descs        []EngineDesc
	computeDelay time.Duration
	failEnqueue  bool
	onStart      func()
	onEnd        func()
}

func (e *memoryEngine) Bindings() []EngineDesc { return e.descs }

func (e *memoryEngine) Close() error { return nil }

func (e *memoryEngine) DeviceAlloc(n int) (DevicePtr, error) {
	return &memBuf{data: make([]byte, n)}, nil
}

func (e *memoryEngine) DeviceFree(p DevicePtr) error { return nil }

func (e *memoryEngine) NewQueue() (Queue, error) { return &memoryQueue{}, nil }

func (e *memoryEngine) CopyHostToDeviceAsync(dst DevicePtr, src []byte, q Queue) error {
	mb, ok := dst.(*memBuf)
	if !ok {
		return fmt.Errorf("backend: bad device ptr")
	}
	copy(mb.data, src)
	return nil
}

func (e *memoryEngine) CopyDeviceToHostAsync(dst []byte, src DevicePtr, q Queue) error {
	mb, ok := src.(*memBuf)
	if !ok {
		return fmt.Errorf("backend: bad device ptr")
	}
	copy(dst, mb.data)
	return nil
}

func (e *memoryEngine) CreateContext() (Context, error) {
	return &memoryContext{engine: e}, nil
}

type memoryQueue struct{}

func (q *memoryQueue) Synchronize() error { return nil }
func (q *memoryQueue) Close() error       { return nil }

type memoryContext struct {
	engine *memoryEngine
}

// Enqueue fills every output binding in bindings with a deterministic
// fixture derived from the input bindings' bytes: each output byte is
// the running XOR-sum of all input bytes across all input buffers,
// repeated to fill the output. This gives a stable, reproducible
// response for a given request without depending on a real
// accelerator's numeric kernel.
func (c *memoryContext) Enqueue(bindings []DevicePtr, q Queue) error {
	if c.engine.failEnqueue {
		return ErrEnqueueFailed
	}
	if c.engine.onStart != nil {
		c.engine.onStart()
	}
	if c.engine.computeDelay > 0 {
		time.Sleep(c.engine.computeDelay)
	}
	if c.engine.onEnd != nil {
		defer c.engine.onEnd()
	}
	var mix byte
	for i, d := range c.engine.descs {
		if !d.IsInput {
			continue
		}
		mb, ok := bindings[i].(*memBuf)
		if !ok {
			continue
		}
		for _, b := range mb.data {
			mix ^= b
		}
	}
	for i, d := range c.engine.descs {
		if d.IsInput {
			continue
		}
		mb, ok := bindings[i].(*memBuf)
		if !ok {
			continue
		}
		for j := range mb.data {
			mb.data[j] = mix
		}
	}
	return nil
}

func (c *memoryContext) Close() error { return nil }
