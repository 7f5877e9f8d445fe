// Package gateway implements the per-connection request loop and the
// accept loop that feeds it, composing the wire codec, model manager,
// and runner pool into the TCP inference server. Grounded on the
// teacher's internal/httpapi package for the surrounding shape
// (structured logging, metrics hooks, timeout handling) even though
// the teacher speaks HTTP and this speaks a raw length-prefixed
// binary protocol.
package gateway

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"time"

	"github.com/KarunKarguz/edge-infer-gateway/internal/manager"
	"github.com/KarunKarguz/edge-infer-gateway/internal/obs"
	"github.com/KarunKarguz/edge-infer-gateway/internal/runner"
	"github.com/KarunKarguz/edge-infer-gateway/internal/wire"
)

// Timeouts bundles the per-syscall-sequence wall-clock budgets the
// connection loop enforces on every read and write.
type Timeouts struct {
	Read  time.Duration
	Write time.Duration
}

// handleConn runs the read-frame/resolve-model/infer/write-response
// loop for one accepted connection until a fatal error, a timeout, or
// peer close ends it. Errors are swallowed here; every terminal
// outcome is already reflected in the obs counters and the structured
// log line emitted before return.
func handleConn(conn net.Conn, mgr *manager.Manager, to Timeouts) {
	defer conn.Close()

	for {
		frame, err := readFrame(conn, to.Read)
		if err != nil {
			if pe, ok := err.(*wire.ProtocolError); ok {
				writeStatusOnly(conn, to.Write, 0, pe.Status())
				obs.RecordError(pe.Status())
				obs.Logger().Warn().Err(pe).Msg("gateway: protocol error")
			} else if err != io.EOF {
				obs.RecordError(0)
				obs.Logger().Debug().Err(err).Msg("gateway: read frame")
			}
			return
		}

		req, perr := wire.Parse(frame)
		if perr != nil {
			status := wire.StatusProtocolError
			if pe, ok := perr.(*wire.ProtocolError); ok {
				status = pe.Status()
			}
			writeStatusOnly(conn, to.Write, 0, status)
			obs.RecordError(status)
			obs.Logger().Warn().Err(perr).Msg("gateway: protocol error")
			return
		}

		resp := serve(req, mgr)
		if resp.Status != wire.StatusOK {
			obs.RecordError(resp.Status)
			obs.Logger().Warn().Uint32("req_id", resp.ReqID).Str("model", req.ModelID).Uint32("status", resp.Status).Msg("gateway: request failed")
		}
		if err := writeFrame(conn, to.Write, resp.Serialize()); err != nil {
			obs.Logger().Debug().Err(err).Msg("gateway: write response")
			return
		}

		// Semantic errors close the connection conservatively per the
		// status table; only a clean success continues the loop.
		if resp.Status != wire.StatusOK {
			return
		}
	}
}

// serve resolves the model, runs inference, and maps any failure onto
// a status-only or populated Response. It never returns an error: the
// status code on the Response is the complete outcome.
func serve(req *wire.Request, mgr *manager.Manager) *wire.Response {
	r, err := mgr.GetOrLoad(req.ModelID)
	if err != nil {
		if manager.IsUnknownModel(err) {
			return wire.StatusOnly(req.ReqID, wire.StatusUnknownModel)
		}
		return wire.StatusOnly(req.ReqID, wire.StatusInferenceFailed)
	}

	inBufs := make([][]byte, len(req.Inputs))
	for i, in := range req.Inputs {
		inBufs[i] = in.Blob
	}
	outDescs := r.Outputs()
	outBufs := make([][]byte, len(outDescs))
	for i, d := range outDescs {
		outBufs[i] = make([]byte, d.ByteLen())
	}

	start := time.Now()
	if err := r.Infer(context.Background(), inBufs, outBufs); err != nil {
		return wire.StatusOnly(req.ReqID, inferStatus(err))
	}
	dur := time.Since(start)
	obs.RecordSuccess(float64(dur.Milliseconds()))
	obs.Logger().Info().Uint32("req_id", req.ReqID).Str("model", req.ModelID).Uint32("status", wire.StatusOK).
		Int64("dur_ms", dur.Milliseconds()).Msg("gateway: request ok")

	return &wire.Response{ReqID: req.ReqID, Status: wire.StatusOK, Outputs: outBufs}
}

// inferStatus maps a runner.InferError's kind onto the wire status
// table: a shape mismatch is a semantic client error, everything else
// from the backend is an inference failure.
func inferStatus(err error) uint32 {
	var ierr *runner.InferError
	if errors.As(err, &ierr) && ierr.Kind == runner.KindIOShapeMismatch {
		return wire.StatusShapeMismatch
	}
	return wire.StatusInferenceFailed
}

func writeStatusOnly(conn net.Conn, timeout time.Duration, reqID, status uint32) {
	_ = writeFrame(conn, timeout, wire.StatusOnly(reqID, status).Serialize())
}

// readFrame reads the outer u32 length prefix then the frame body,
// resetting the read deadline before each syscall-sequence per the
// per-frame timeout budget.
func readFrame(conn net.Conn, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return nil, err
	}
	frameLen := binary.LittleEndian.Uint32(lenBuf[:])
	if err := wire.ValidateFrameLen(frameLen); err != nil {
		return nil, err
	}

	if timeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
	}
	body := make([]byte, frameLen)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, err
	}
	return body, nil
}

func writeFrame(conn net.Conn, timeout time.Duration, frame []byte) error {
	if timeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	_, err := conn.Write(frame)
	return err
}
