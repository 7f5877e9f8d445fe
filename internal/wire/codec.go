// Package wire implements the length-prefixed binary request/response
// framing described by the gateway's wire protocol. The codec is
// stateless: it operates on byte slices with explicit bounds checks
// before every read, and never allocates beyond the descriptor
// sequence it returns — input payload bytes are borrowed views into
// the caller's receive buffer.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/KarunKarguz/edge-infer-gateway/pkg/types"
)

// Status codes returned in response frames.
const (
	StatusOK              uint32 = 0
	StatusProtocolError   uint32 = 1
	StatusUnknownModel    uint32 = 2
	StatusShapeMismatch   uint32 = 3
	StatusInferenceFailed uint32 = 4
)

const (
	headerLen    = 20
	magicLen     = 4
	protoVersion = uint16(1)
	maxModelLen  = 256
	maxNDims     = 8
	// MaxFrameLen bounds the outer length prefix to guard against
	// unbounded allocation from a malicious or corrupt length field.
	MaxFrameLen uint32 = 64 << 20
)

var wireMagic = [magicLen]byte{'T', 'R', 'T', 0x01}

// ProtocolError is returned by Parse for any framing violation. Kind
// maps directly to a wire status code via Status(), so the connection
// handler never needs to string-match an error to pick a response
// code.
type ProtocolError struct {
	Kind string
	Msg  string
}

func (e *ProtocolError) Error() string {
	if e.Msg == "" {
		return e.Kind
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Status maps a ProtocolError to its wire status code. Every
// ProtocolError produced by this package is a protocol-layer failure,
// so they all map to StatusProtocolError; the Kind field is preserved
// for logging.
func (e *ProtocolError) Status() uint32 { return StatusProtocolError }

func protoErr(kind, msg string) *ProtocolError { return &ProtocolError{Kind: kind, Msg: msg} }

var (
	// ErrTruncated is the sentinel ProtocolError kind for any short
	// read or bounds failure while parsing a frame.
	ErrBadMagic    = "BadMagic"
	ErrBadVersion  = "BadVersion"
	ErrOversized   = "OversizedField"
	ErrTruncated   = "Truncated"
	ErrBadDType    = "BadDType"
	ErrBadShape    = "BadShape"
	ErrFrameTooBig = "FrameTooBig"
)

// TensorDesc is one parsed input descriptor: its declared dtype, shape,
// and a view into the frame buffer holding its bytes.
type TensorDesc struct {
	DType types.DType
	Shape []int32
	Blob  []byte

	blen uint32 // declared blob length, used while parsing before Blob is sliced
}

// Request is the parsed in-memory form of one request frame.
type Request struct {
	ReqID   uint32
	ModelID string
	Inputs  []TensorDesc
}

// ValidateFrameLen checks an outer length prefix against MaxFrameLen
// before the caller reads the frame body, rejecting with
// StatusProtocolError and closing the connection.
func ValidateFrameLen(frameLen uint32) error {
	if frameLen > MaxFrameLen {
		return protoErr(ErrFrameTooBig, fmt.Sprintf("%d exceeds max %d", frameLen, MaxFrameLen))
	}
	return nil
}

// Parse parses a complete inner frame (the bytes following the outer
// u32 length prefix) into a Request. Every bound check happens before
// the read it guards; any short read or out-of-range field yields a
// *ProtocolError with Kind ErrTruncated (or a more specific kind).
func Parse(frame []byte) (*Request, error) {
	if len(frame) < headerLen {
		return nil, protoErr(ErrTruncated, "short header")
	}
	if !bytesEqual(frame[0:magicLen], wireMagic[:]) {
		return nil, protoErr(ErrBadMagic, "")
	}
	version := binary.LittleEndian.Uint16(frame[4:6])
	if version != protoVersion {
		return nil, protoErr(ErrBadVersion, fmt.Sprintf("got %d", version))
	}
	// flags := binary.LittleEndian.Uint16(frame[6:8]) // reserved, unused
	modelLen := binary.LittleEndian.Uint32(frame[8:12])
	nInputs := binary.LittleEndian.Uint32(frame[12:16])
	reqID := binary.LittleEndian.Uint32(frame[16:20]) // reserved/payload_len field, treated as req id

	if modelLen > maxModelLen {
		return nil, protoErr(ErrOversized, fmt.Sprintf("model_len=%d", modelLen))
	}

	off := headerLen
	if uint64(off)+uint64(modelLen) > uint64(len(frame)) {
		return nil, protoErr(ErrTruncated, "model id")
	}
	modelID := string(frame[off : off+int(modelLen)])
	off += int(modelLen)

	// Each tensor descriptor costs at least 2 bytes (dtype + ndims)
	// even with a zero-length shape and blob, so nInputs can never
	// legitimately exceed the remaining frame bytes divided by that
	// minimum. Bounding it here before the allocation below means a
	// forged nInputs in a short frame is rejected instead of driving
	// an attempted multi-gigabyte slice allocation.
	const minTensorHeaderLen = 2
	if uint64(nInputs) > uint64(len(frame)-off)/minTensorHeaderLen {
		return nil, protoErr(ErrTruncated, fmt.Sprintf("n_inputs=%d exceeds frame capacity", nInputs))
	}

	inputs := make([]TensorDesc, 0, nInputs)
	for i := uint32(0); i < nInputs; i++ {
		if off+2 > len(frame) {
			return nil, protoErr(ErrTruncated, "tensor header")
		}
		dt := types.DType(frame[off])
		nd := int(frame[off+1])
		off += 2
		if !dt.Valid() {
			return nil, protoErr(ErrBadDType, fmt.Sprintf("dtype=%d", dt))
		}
		// ndims=0 is a legal rank-0 (scalar) descriptor: an empty shape
		// and a blob of exactly one element. Only the upper bound and
		// non-positive individual dims are rejected.
		if nd > maxNDims {
			return nil, protoErr(ErrBadShape, fmt.Sprintf("ndims=%d", nd))
		}
		shapeBytes := nd * 4
		if off+shapeBytes > len(frame) {
			return nil, protoErr(ErrTruncated, "shape")
		}
		shape := make([]int32, nd)
		for j := 0; j < nd; j++ {
			v := int32(binary.LittleEndian.Uint32(frame[off+j*4 : off+j*4+4]))
			if v <= 0 {
				return nil, protoErr(ErrBadShape, fmt.Sprintf("dim[%d]=%d", j, v))
			}
			shape[j] = v
		}
		off += shapeBytes
		if off+4 > len(frame) {
			return nil, protoErr(ErrTruncated, "blob_len")
		}
		blen := binary.LittleEndian.Uint32(frame[off : off+4])
		off += 4
		inputs = append(inputs, TensorDesc{DType: dt, Shape: shape, blen: blen})
	}

	var want uint64
	for i := range inputs {
		want += uint64(inputs[i].blen)
	}
	if want > uint64(len(frame)-off) {
		return nil, protoErr(ErrTruncated, "payload")
	}
	for i := range inputs {
		n := int(inputs[i].blen)
		inputs[i].Blob = frame[off : off+n]
		off += n
	}

	return &Request{ReqID: reqID, ModelID: modelID, Inputs: inputs}, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
