// Folium - Collaborative Class Notes Server
// Copyright 2026 Folium Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/folium-app/folium-server

package task

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame layout (28-byte header, little-endian, no padding):
//
//	0  ..7   Kind          u64
//	8  ..15  CorrelationID u64
//	16 ..23  WorkerID      u64
//	24 ..27  PayloadLen    u32
//	28 ..    Payload       UTF-8 JSON, PayloadLen bytes
const headerSize = 28

// MaxPayloadSize bounds a single frame's JSON payload. Oversize frames are
// codec errors on both ends.
const MaxPayloadSize = 1 << 20

var (
	// ErrPayloadTooLarge is returned for frames exceeding MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("task: payload exceeds maximum frame size")

	// ErrShortFrame is returned when a frame ends mid-record. Callers
	// treat it as fatal for the channel: no half-records are exposed.
	ErrShortFrame = errors.New("task: truncated frame")
)

// Encode writes t as a single frame. The write is buffered into one slice so
// a frame smaller than PIPE_BUF reaches a FIFO atomically.
func Encode(w io.Writer, t *Task) error {
	if len(t.Payload) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}

	buf := make([]byte, headerSize+len(t.Payload))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(t.Kind))
	binary.LittleEndian.PutUint64(buf[8:16], t.CorrelationID)
	binary.LittleEndian.PutUint64(buf[16:24], t.WorkerID)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(len(t.Payload)))
	copy(buf[headerSize:], t.Payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("task: write frame: %w", err)
	}
	return nil
}

// Decode reads exactly one frame from r. It returns io.EOF only when the
// stream ends cleanly before the first header byte; a stream ending anywhere
// inside a record yields ErrShortFrame.
func Decode(r io.Reader) (*Task, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortFrame
		}
		return nil, fmt.Errorf("task: read header: %w", err)
	}

	payloadLen := binary.LittleEndian.Uint32(header[24:28])
	if payloadLen > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	t := &Task{
		Kind:          Kind(binary.LittleEndian.Uint64(header[0:8])),
		CorrelationID: binary.LittleEndian.Uint64(header[8:16]),
		WorkerID:      binary.LittleEndian.Uint64(header[16:24]),
	}

	if payloadLen > 0 {
		t.Payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, t.Payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, ErrShortFrame
			}
			return nil, fmt.Errorf("task: read payload: %w", err)
		}
	}

	return t, nil
}
