package wire

import "encoding/binary"

// Response is the in-memory form of one outgoing frame: the echoed
// request id, the status code, and zero or more output blobs in
// declared output order.
type Response struct {
	ReqID   uint32
	Status  uint32
	Outputs [][]byte
}

// StatusOnly builds a zero-output response, used for every protocol and
// semantic error path: both close the connection after a best-effort
// status-only frame. Connections rejected at accept time get no frame.
func StatusOnly(reqID, status uint32) *Response {
	return &Response{ReqID: reqID, Status: status}
}

// Serialize encodes a Response into the outer-length-prefixed wire
// form: u32 frame_len, then req_id, status, n_outputs, per-output
// lengths, then concatenated output bytes. All integers little-endian.
func (r *Response) Serialize() []byte {
	nout := len(r.Outputs)
	frameBodyLen := 12 + 4*nout
	for _, o := range r.Outputs {
		frameBodyLen += len(o)
	}

	buf := make([]byte, 4+frameBodyLen)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(frameBodyLen))

	off := 4
	binary.LittleEndian.PutUint32(buf[off:off+4], r.ReqID)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], r.Status)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(nout))
	off += 4
	for _, o := range r.Outputs {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(o)))
		off += 4
	}
	for _, o := range r.Outputs {
		copy(buf[off:off+len(o)], o)
		off += len(o)
	}
	return buf
}
