// Package backend defines the abstract accelerator collaborator the
// runner package drives. The accelerator runtime itself is out of
// scope: a real implementation would bind to a vendor SDK (TensorRT,
// ONNX Runtime, a vendor's NPU driver) behind this same interface.
// This package also ships the deterministic in-memory Backend used by
// default and by tests, since no such vendor SDK is part of this
// module's dependency surface.
package backend

import "errors"

// EngineDesc declares the binding set of a loaded engine, named
// the way TensorRT/ONNX Runtime style SDKs enumerate bindings: a flat,
// ordered list mixing inputs and outputs in the engine's native order.
type EngineDesc struct {
	Name      string
	IsInput   bool
	DTypeSize int // bytes per element
	Shape     []int32
}

// ByteLen returns the product of Shape times DTypeSize.
func (d EngineDesc) ByteLen() int {
	n := d.DTypeSize
	for _, s := range d.Shape {
		n *= int(s)
	}
	return n
}

// Queue is an opaque ordered command sink for H2D/execute/D2H
// operations, synchronized to completion by Synchronize.
type Queue interface {
	Synchronize() error
	Close() error
}

// Context is a per-invocation execution state object paired with one
// Queue. Multiple Contexts can coexist against one Engine.
type Context interface {
	// Enqueue submits execution against bindings, ordered as the
	// engine declares them (EngineDesc order), onto q.
	Enqueue(bindings []DevicePtr, q Queue) error
	Close() error
}

// DevicePtr is an opaque handle to accelerator-resident memory.
type DevicePtr interface{}

// Engine is a deserialized accelerator artifact, shared across all of
// a Runner's pooled Contexts.
type Engine interface {
	Bindings() []EngineDesc
	CreateContext() (Context, error)
	// DeviceAlloc reserves n bytes of accelerator-resident memory for
	// one binding, shared by every Context created by this Engine.
	DeviceAlloc(n int) (DevicePtr, error)
	DeviceFree(p DevicePtr) error
	NewQueue() (Queue, error)
	// CopyHostToDeviceAsync and CopyDeviceToHostAsync enqueue
	// asynchronous transfers on q; they complete at the next
	// Queue.Synchronize.
	CopyHostToDeviceAsync(dst DevicePtr, src []byte, q Queue) error
	CopyDeviceToHostAsync(dst []byte, src DevicePtr, q Queue) error
	Close() error
}

// Runtime loads a serialized engine artifact (the whole-file bytes
// read from ModelConfig.EnginePath) into an Engine.
type Runtime interface {
	LoadEngine(blob []byte) (Engine, error)
	Close() error
}

// ErrEnqueueFailed is returned by Context.Enqueue implementations on a
// backend-reported submission failure.
var ErrEnqueueFailed = errors.New("backend: enqueue failed")

// RuntimeFactory constructs a fresh Runtime. Each Runner owns its own
// Runtime instance (the original accelerator's createInferRuntime is
// called once per loaded engine, not shared process-wide), so the
// model manager is given a factory rather than a shared Runtime value.
type RuntimeFactory func() (Runtime, error)
