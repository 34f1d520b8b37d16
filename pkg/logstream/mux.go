package logstream

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cuemby/corral/pkg/types"
)

// Stream type bytes in the multiplexed frame header
const (
	streamStdin  byte = 0
	streamStdout byte = 1
	streamStderr byte = 2
)

const (
	headerLen = 8

	// maxFramePayload guards against corrupt headers
	maxFramePayload = 16 * 1024 * 1024
)

// Frame is one demultiplexed chunk of container output. Payloads carry
// possibly-partial lines; line assembly happens downstream.
type Frame struct {
	Stream  types.LogStream
	Payload []byte
}

// Decoder incrementally extracts frames from the multiplexed byte
// stream. Bytes accumulate until a full header and payload are
// available; the remainder always belongs to the next frame.
type Decoder struct {
	buf []byte
}

// Feed appends raw bytes and returns every complete frame. Stdin
// frames are dropped. A malformed header poisons the stream and the
// caller should reattach.
func (d *Decoder) Feed(p []byte) ([]Frame, error) {
	d.buf = append(d.buf, p...)

	var frames []Frame
	for {
		if len(d.buf) < headerLen {
			return frames, nil
		}

		streamType := d.buf[0]
		if streamType > streamStderr {
			return frames, fmt.Errorf("invalid stream type %d in frame header", streamType)
		}

		length := binary.BigEndian.Uint32(d.buf[4:8])
		if length > maxFramePayload {
			return frames, fmt.Errorf("frame payload length %d exceeds limit", length)
		}

		total := headerLen + int(length)
		if len(d.buf) < total {
			return frames, nil
		}

		payload := make([]byte, length)
		copy(payload, d.buf[headerLen:total])
		d.buf = d.buf[total:]

		if streamType == streamStdin {
			continue
		}

		stream := types.LogStreamStdout
		if streamType == streamStderr {
			stream = types.LogStreamStderr
		}
		frames = append(frames, Frame{Stream: stream, Payload: payload})
	}
}

// Pending reports buffered bytes awaiting the rest of a frame
func (d *Decoder) Pending() int {
	return len(d.buf)
}

// EncodeFrame writes one multiplexed frame
func EncodeFrame(w io.Writer, stream types.LogStream, payload []byte) error {
	header := make([]byte, headerLen)
	switch stream {
	case types.LogStreamStderr:
		header[0] = streamStderr
	default:
		header[0] = streamStdout
	}
	binary.BigEndian.PutUint32(header[4:8], uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
