package gateway

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/KarunKarguz/edge-infer-gateway/internal/backend"
	"github.com/KarunKarguz/edge-infer-gateway/internal/manager"
	"github.com/KarunKarguz/edge-infer-gateway/internal/wire"
	"github.com/KarunKarguz/edge-infer-gateway/pkg/types"
)

const simpleEngineYAML = `
bindings:
  - name: input0
    direction: input
    dtype: fp32
    shape: [1, 3, 4, 4]
  - name: output0
    direction: output
    dtype: fp32
    shape: [1, 10]
`

func writeEngineFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write engine file: %v", err)
	}
	return p
}

// buildFrame assembles a well-formed inner frame for a model id and,
// when blob is non-nil, one fp32 input matching the given shape. A
// nil blob produces a zero-input request.
func buildFrame(t *testing.T, reqID uint32, modelID string, blob []byte, shape []int32) []byte {
	t.Helper()
	var buf bytes.Buffer
	nInputs := uint32(0)
	if blob != nil {
		nInputs = 1
	}
	hdr := make([]byte, 20)
	copy(hdr[0:4], []byte{'T', 'R', 'T', 0x01})
	binary.LittleEndian.PutUint16(hdr[4:6], 1)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(modelID)))
	binary.LittleEndian.PutUint32(hdr[12:16], nInputs)
	binary.LittleEndian.PutUint32(hdr[16:20], reqID)
	buf.Write(hdr)
	buf.WriteString(modelID)
	if blob != nil {
		buf.WriteByte(byte(types.DTypeFP32))
		buf.WriteByte(byte(len(shape)))
		for _, d := range shape {
			var db [4]byte
			binary.LittleEndian.PutUint32(db[:], uint32(d))
			buf.Write(db[:])
		}
		var lb [4]byte
		binary.LittleEndian.PutUint32(lb[:], uint32(len(blob)))
		buf.Write(lb[:])
		buf.Write(blob)
	}
	return buf.Bytes()
}

func outerFrame(body []byte) []byte {
	out := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(body)))
	copy(out[4:], body)
	return out
}

func startServer(t *testing.T, mgr *manager.Manager, to Timeouts) (addr string, stop func()) {
	t.Helper()
	srv := &Server{Addr: "127.0.0.1:0", MaxClients: 64, Timeouts: to, Manager: mgr}
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv.ln = ln
	srv.sem = make(chan struct{}, srv.MaxClients)
	addr = ln.Addr().String()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			srv.wg.Add(1)
			go func() {
				defer srv.wg.Done()
				handleConn(conn, mgr, to)
			}()
		}
	}()

	stop = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		wg.Wait()
	}
	return addr, stop
}

func newTestManager(t *testing.T) *manager.Manager {
	t.Helper()
	dir := t.TempDir()
	p := writeEngineFile(t, dir, "e.yaml", simpleEngineYAML)
	return manager.New(
		[]types.ModelConfig{{ID: "m", EnginePath: p, Concurrency: 2}},
		func() (backend.Runtime, error) { return backend.NewMemoryRuntime(), nil },
	)
}

// TestPingClassify is scenario S1: a valid single-input request
// against a loaded model returns status 0 with one 40-byte output.
func TestPingClassify(t *testing.T) {
	mgr := newTestManager(t)
	addr, stop := startServer(t, mgr, Timeouts{Read: 2 * time.Second, Write: 2 * time.Second})
	defer stop()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	blob := bytes.Repeat([]byte{0x01}, 192)
	frame := outerFrame(buildFrame(t, 42, "m", blob, []int32{1, 3, 4, 4}))
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	resp := readResponse(t, conn)
	if resp.Status != wire.StatusOK {
		t.Fatalf("expected status 0, got %d", resp.Status)
	}
	if len(resp.Outputs) != 1 || len(resp.Outputs[0]) != 40 {
		t.Fatalf("unexpected outputs: %+v", resp.Outputs)
	}
}

// TestBadMagic is scenario S2: a frame with a bad magic gets a
// status-only response with status 1 and the connection is closed.
func TestBadMagic(t *testing.T) {
	mgr := newTestManager(t)
	addr, stop := startServer(t, mgr, Timeouts{Read: 2 * time.Second, Write: 2 * time.Second})
	defer stop()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	body := make([]byte, 20)
	copy(body[0:4], []byte{'X', 'X', 'X', 'X'})
	if _, err := conn.Write(outerFrame(body)); err != nil {
		t.Fatalf("write: %v", err)
	}

	resp := readResponse(t, conn)
	if resp.Status != wire.StatusProtocolError {
		t.Fatalf("expected status 1, got %d", resp.Status)
	}

	// connection must be closed, no further frames accepted
	conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	var b [1]byte
	if _, err := conn.Read(b[:]); err == nil {
		t.Fatalf("expected connection to be closed after protocol error")
	}
}

// TestUnknownModel is scenario S3: a well-framed request for an
// unregistered model id gets status 2 with zero outputs and the
// request id echoed.
func TestUnknownModel(t *testing.T) {
	mgr := newTestManager(t)
	addr, stop := startServer(t, mgr, Timeouts{Read: 2 * time.Second, Write: 2 * time.Second})
	defer stop()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	frame := outerFrame(buildFrame(t, 99, "nope", nil, nil))
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	resp := readResponse(t, conn)
	if resp.ReqID != 99 {
		t.Fatalf("expected req_id echoed, got %d", resp.ReqID)
	}
	if resp.Status != wire.StatusUnknownModel {
		t.Fatalf("expected status 2, got %d", resp.Status)
	}
	if len(resp.Outputs) != 0 {
		t.Fatalf("expected zero outputs, got %d", len(resp.Outputs))
	}
}

// TestConcurrencyBound is scenario S4: with concurrency 2 and a
// 100ms-per-call backend delay, 5 simultaneous clients take at least
// ceil(5/2)*100ms (not all at once) and finish within a loose 2s bound.
func TestConcurrencyBound(t *testing.T) {
	dir := t.TempDir()
	p := writeEngineFile(t, dir, "e.yaml", simpleEngineYAML+"compute_delay_ms: 100\n")
	mgr := manager.New(
		[]types.ModelConfig{{ID: "m", EnginePath: p, Concurrency: 2}},
		func() (backend.Runtime, error) { return backend.NewMemoryRuntime(), nil },
	)
	addr, stop := startServer(t, mgr, Timeouts{Read: 5 * time.Second, Write: 5 * time.Second})
	defer stop()

	const callers = 5
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				t.Errorf("dial: %v", err)
				return
			}
			defer conn.Close()
			blob := bytes.Repeat([]byte{0x01}, 192)
			frame := outerFrame(buildFrame(t, 1, "m", blob, []int32{1, 3, 4, 4}))
			if _, err := conn.Write(frame); err != nil {
				t.Errorf("write: %v", err)
				return
			}
			resp := readResponse(t, conn)
			if resp.Status != wire.StatusOK {
				t.Errorf("expected status 0, got %d", resp.Status)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	if elapsed < 300*time.Millisecond {
		t.Fatalf("completed too fast (%v), expected serialization at concurrency 2", elapsed)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("completed too slow (%v)", elapsed)
	}
}

// TestPartialWriteTimeout is scenario S5: a client that writes only
// the outer length prefix then stalls past the read timeout gets
// disconnected without panicking the server.
func TestPartialWriteTimeout(t *testing.T) {
	mgr := newTestManager(t)
	addr, stop := startServer(t, mgr, Timeouts{Read: 100 * time.Millisecond, Write: 2 * time.Second})
	defer stop()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], 200)
	if _, err := conn.Write(lenBuf[:]); err != nil {
		t.Fatalf("write: %v", err)
	}

	// never send the body; expect the server to close the connection
	// once the read timeout elapses.
	conn.SetReadDeadline(time.Now().Add(1 * time.Second))
	var b [1]byte
	if _, err := conn.Read(b[:]); err == nil {
		t.Fatalf("expected connection to be closed after read timeout")
	}
}

// TestQueueDepthBound exercises QueueDepth directly against the real
// accept loop: with MaxClients=1 and QueueDepth=1, a third simultaneous
// caller (one being served, one waiting in queue) is rejected outright
// instead of queuing unboundedly.
func TestQueueDepthBound(t *testing.T) {
	dir := t.TempDir()
	p := writeEngineFile(t, dir, "e.yaml", simpleEngineYAML+"compute_delay_ms: 300\n")
	mgr := manager.New(
		[]types.ModelConfig{{ID: "m", EnginePath: p, Concurrency: 1}},
		func() (backend.Runtime, error) { return backend.NewMemoryRuntime(), nil },
	)

	srv := &Server{
		Addr:       "127.0.0.1:0",
		MaxClients: 1,
		QueueDepth: 1,
		Timeouts:   Timeouts{Read: 5 * time.Second, Write: 5 * time.Second},
		Manager:    mgr,
	}
	go func() { _ = srv.ListenAndServe() }()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	var addr string
	for i := 0; i < 100; i++ {
		srv.mu.Lock()
		ln := srv.ln
		srv.mu.Unlock()
		if ln != nil {
			addr = ln.Addr().String()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if addr == "" {
		t.Fatalf("server never bound a listener")
	}

	dial := func() net.Conn {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		blob := bytes.Repeat([]byte{0x01}, 192)
		frame := outerFrame(buildFrame(t, 1, "m", blob, []int32{1, 3, 4, 4}))
		if _, err := conn.Write(frame); err != nil {
			t.Fatalf("write: %v", err)
		}
		return conn
	}

	// First caller takes the one MaxClients slot; second takes the one
	// QueueDepth slot and waits. Give the accept loop time to settle
	// both before the third caller arrives.
	c1 := dial()
	defer c1.Close()
	c2 := dial()
	defer c2.Close()
	time.Sleep(50 * time.Millisecond)

	c3, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c3.Close()

	c3.SetReadDeadline(time.Now().Add(1 * time.Second))
	var b [1]byte
	if _, err := c3.Read(b[:]); err == nil {
		t.Fatalf("expected third connection to be rejected once max_clients+queue_depth are exhausted")
	}

	resp1 := readResponse(t, c1)
	if resp1.Status != wire.StatusOK {
		t.Fatalf("expected first caller status 0, got %d", resp1.Status)
	}
	// The MaxClients slot is held for the whole connection, so the
	// queued caller is only served once the first connection ends.
	c1.Close()
	resp2 := readResponse(t, c2)
	if resp2.Status != wire.StatusOK {
		t.Fatalf("expected queued caller status 0, got %d", resp2.Status)
	}
}

func readResponse(t *testing.T, conn net.Conn) *wire.Response {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var lenBuf [4]byte
	if _, err := readFull(conn, lenBuf[:]); err != nil {
		t.Fatalf("read response len: %v", err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := readFull(conn, body); err != nil {
		t.Fatalf("read response body: %v", err)
	}

	reqID := binary.LittleEndian.Uint32(body[0:4])
	status := binary.LittleEndian.Uint32(body[4:8])
	nout := binary.LittleEndian.Uint32(body[8:12])
	outs := make([][]byte, nout)
	off := 12
	lens := make([]uint32, nout)
	for i := uint32(0); i < nout; i++ {
		lens[i] = binary.LittleEndian.Uint32(body[off : off+4])
		off += 4
	}
	for i := uint32(0); i < nout; i++ {
		outs[i] = body[off : off+int(lens[i])]
		off += int(lens[i])
	}
	return &wire.Response{ReqID: reqID, Status: status, Outputs: outs}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
