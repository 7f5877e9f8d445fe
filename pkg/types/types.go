// Package types holds the data model shared across the gateway's
// public-facing packages: registry configuration and wire-adjacent
// descriptors that more than one internal package needs to agree on.
package types

// DType is the closed set of tensor element types the wire protocol and
// the backend runner understand.
type DType uint8

const (
	DTypeFP32  DType = 0
	DTypeFP16  DType = 1
	DTypeInt8  DType = 2
	DTypeInt32 DType = 3
)

// Size returns the byte size of one element of the given dtype, or 0 for
// an unrecognized value.
func (d DType) Size() int {
	switch d {
	case DTypeFP32, DTypeInt32:
		return 4
	case DTypeFP16:
		return 2
	case DTypeInt8:
		return 1
	default:
		return 0
	}
}

// Valid reports whether d is one of the closed set of wire dtypes.
func (d DType) Valid() bool {
	return d.Size() > 0
}

func (d DType) String() string {
	switch d {
	case DTypeFP32:
		return "fp32"
	case DTypeFP16:
		return "fp16"
	case DTypeInt8:
		return "int8"
	case DTypeInt32:
		return "int32"
	default:
		return "unknown"
	}
}

// ModelConfig is one registry entry: a registered model id, the
// filesystem path to its serialized accelerator engine, and the number
// of execution contexts to preallocate for it.
//
// example: id=yolov5s engine=engines/yolov5s.plan concurrency=2
type ModelConfig struct {
	ID          string `json:"id" yaml:"id" toml:"id"`
	EnginePath  string `json:"engine" yaml:"engine" toml:"engine"`
	Concurrency int    `json:"concurrency" yaml:"concurrency" toml:"concurrency"`
}
