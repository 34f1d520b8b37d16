package logstream

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cuemby/corral/pkg/types"
)

// TestDecoderRoundTrip feeds arbitrary frame sequences in arbitrary
// chunk sizes and requires every frame back intact and in order
func TestDecoderRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		frameCount := rapid.IntRange(1, 20).Draw(t, "frames")

		var wire bytes.Buffer
		var want []Frame
		for i := 0; i < frameCount; i++ {
			stream := types.LogStreamStdout
			if rapid.Bool().Draw(t, fmt.Sprintf("stderr_%d", i)) {
				stream = types.LogStreamStderr
			}
			payload := rapid.SliceOfN(rapid.Byte(), 0, 256).Draw(t, fmt.Sprintf("payload_%d", i))
			require.NoError(t, EncodeFrame(&wire, stream, payload))
			want = append(want, Frame{Stream: stream, Payload: payload})
		}

		dec := &Decoder{}
		var got []Frame
		data := wire.Bytes()
		for len(data) > 0 {
			n := rapid.IntRange(1, len(data)).Draw(t, "chunk")
			frames, err := dec.Feed(data[:n])
			require.NoError(t, err)
			got = append(got, frames...)
			data = data[n:]
		}

		require.Len(t, got, len(want))
		for i := range want {
			assert.Equal(t, want[i].Stream, got[i].Stream, "frame %d stream", i)
			assert.True(t, bytes.Equal(want[i].Payload, got[i].Payload), "frame %d payload", i)
		}
		assert.Zero(t, dec.Pending())
	})
}

// TestDecoderByteAtATime exercises header and payload splits at every
// possible boundary
func TestDecoderByteAtATime(t *testing.T) {
	var wire bytes.Buffer
	require.NoError(t, EncodeFrame(&wire, types.LogStreamStdout, []byte("npm install\n")))
	require.NoError(t, EncodeFrame(&wire, types.LogStreamStderr, []byte("error: boom\n")))

	dec := &Decoder{}
	var got []Frame
	for _, b := range wire.Bytes() {
		frames, err := dec.Feed([]byte{b})
		require.NoError(t, err)
		got = append(got, frames...)
	}

	require.Len(t, got, 2)
	assert.Equal(t, types.LogStreamStdout, got[0].Stream)
	assert.Equal(t, "npm install\n", string(got[0].Payload))
	assert.Equal(t, types.LogStreamStderr, got[1].Stream)
	assert.Equal(t, "error: boom\n", string(got[1].Payload))
	assert.Zero(t, dec.Pending())
}

// TestDecoderFrameStraddlesChunk delivers one complete frame plus a
// partial header in a single read
func TestDecoderFrameStraddlesChunk(t *testing.T) {
	var wire bytes.Buffer
	require.NoError(t, EncodeFrame(&wire, types.LogStreamStdout, []byte("first")))
	require.NoError(t, EncodeFrame(&wire, types.LogStreamStdout, []byte("second")))
	data := wire.Bytes()

	dec := &Decoder{}
	cut := headerLen + len("first") + 3 // three bytes into the next header

	frames, err := dec.Feed(data[:cut])
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "first", string(frames[0].Payload))
	assert.Equal(t, 3, dec.Pending())

	frames, err = dec.Feed(data[cut:])
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "second", string(frames[0].Payload))
}

// TestDecoderDropsStdinFrames silently discards stream type zero
func TestDecoderDropsStdinFrames(t *testing.T) {
	wire := []byte{0, 0, 0, 0, 0, 0, 0, 2, 'h', 'i'}

	dec := &Decoder{}
	frames, err := dec.Feed(wire)
	require.NoError(t, err)
	assert.Empty(t, frames)
	assert.Zero(t, dec.Pending())
}

// TestDecoderRejectsCorruptHeader poisons the stream on garbage
func TestDecoderRejectsCorruptHeader(t *testing.T) {
	wire := []byte{9, 0, 0, 0, 0, 0, 0, 1, 'x'}

	dec := &Decoder{}
	_, err := dec.Feed(wire)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid stream type")
}
