package ami

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func chunkedTransport(chunks [][]byte) func([]byte) (int, error) {
	return func(p []byte) (int, error) {
		for len(chunks) > 0 && len(chunks[0]) == 0 {
			chunks = chunks[1:]
		}
		if len(chunks) == 0 {
			return 0, io.EOF
		}
		n := copy(p, chunks[0])
		chunks[0] = chunks[0][n:]
		return n, nil
	}
}

func readAllFrames(t require.TestingT, r *FrameReader) []string {
	var frames []string
	for {
		frame, err := r.ReadFrame(context.Background(), time.Now().Add(time.Second))
		if err != nil {
			require.ErrorIs(t, err, ErrConnectionClosed)
			require.Empty(t, frame.Raw)
			return frames
		}
		require.True(t, frame.Complete)
		frames = append(frames, frame.String())
	}
}

func TestReadFrameIndependentOfChunking(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numFrames := rapid.IntRange(1, 5).Draw(t, "numFrames")
		var want []string
		var stream []byte
		for i := 0; i < numFrames; i++ {
			numLines := rapid.IntRange(1, 6).Draw(t, "numLines")
			var lines []string
			for j := 0; j < numLines; j++ {
				lines = append(lines, rapid.StringMatching(`[A-Za-z]{1,8}: [a-z0-9 ]{0,12}`).Draw(t, "line"))
			}
			frame := strings.Join(lines, "\r\n") + "\r\n\r\n"
			want = append(want, frame)
			stream = append(stream, frame...)
		}

		var chunks [][]byte
		rest := stream
		for len(rest) > 0 {
			size := rapid.IntRange(1, len(rest)).Draw(t, "chunk")
			chunks = append(chunks, append([]byte(nil), rest[:size]...))
			rest = rest[size:]
		}

		server, client := net.Pipe()
		defer server.Close()
		defer client.Close()

		whole := readAllFrames(t, newFrameReaderWithTransport(server, chunkedTransport([][]byte{stream}), 0))
		split := readAllFrames(t, newFrameReaderWithTransport(server, chunkedTransport(chunks), 0))
		require.Equal(t, want, whole)
		require.Equal(t, whole, split)
	})
}

func TestReadFrameOneByteAtATime(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	payload := "Response: Success\r\nMessage: Command output follows\r\nOutput: hello\r\n\r\n"
	go func() {
		for i := 0; i < len(payload); i++ {
			if _, err := client.Write([]byte{payload[i]}); err != nil {
				return
			}
		}
	}()

	reader := NewFrameReader(server)
	frame, err := reader.ReadFrame(context.Background(), time.Now().Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, frame.Complete)
	assert.Equal(t, payload, frame.String())
	assert.Zero(t, reader.Buffered())
}

func TestReadFrameBareNewlineTerminator(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		_, _ = client.Write([]byte("Response: Success\nMessage: ok\n\n"))
	}()

	frame, err := NewFrameReader(server).ReadFrame(context.Background(), time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "Response: Success\nMessage: ok\n\n", frame.String())
}

func TestReadFrameShortBlankLineIsNotTerminator(t *testing.T) {
	reader := newFrameReaderWithTransport(nopConn(t), chunkedTransport([][]byte{
		[]byte("ab\n\nResponse: Success\r\n\r\n"),
	}), 0)

	frame, err := reader.ReadFrame(context.Background(), time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "ab\n\nResponse: Success\r\n\r\n", frame.String())
}

func TestReadFrameDropsLeadingBlankLines(t *testing.T) {
	reader := newFrameReaderWithTransport(nopConn(t), chunkedTransport([][]byte{
		[]byte("\r\n\r\n"),
		[]byte("\r\nResponse: Success\r\n\r\n"),
	}), 0)

	frame, err := reader.ReadFrame(context.Background(), time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "Response: Success\r\n\r\n", frame.String())
}

func TestReadFrameCarriesOverAndDiscards(t *testing.T) {
	reader := newFrameReaderWithTransport(nopConn(t), chunkedTransport([][]byte{
		[]byte("Response: Success\r\n\r\nEvent: Stale\r\n"),
	}), 0)

	frame, err := reader.ReadFrame(context.Background(), time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "Response: Success\r\n\r\n", frame.String())
	assert.Equal(t, len("Event: Stale\r\n"), reader.Buffered())

	assert.Equal(t, len("Event: Stale\r\n"), reader.Discard())
	assert.Zero(t, reader.Buffered())
}

func TestReadFrameTimeoutReturnsPartial(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		_, _ = client.Write([]byte("Response: Follows\r\nOutput: partial"))
	}()

	start := time.Now()
	frame, err := NewFrameReader(server).ReadFrame(context.Background(), time.Now().Add(150*time.Millisecond))
	require.ErrorIs(t, err, ErrFrameTimeout)
	assert.False(t, frame.Complete)
	assert.Equal(t, "Response: Follows\r\nOutput: partial", frame.String())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestReadFramePeerCloseIsDistinctFromTimeout(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	go func() {
		_, _ = client.Write([]byte("Response: Su"))
		_ = client.Close()
	}()

	frame, err := NewFrameReader(server).ReadFrame(context.Background(), time.Now().Add(2*time.Second))
	require.ErrorIs(t, err, ErrConnectionClosed)
	assert.False(t, errors.Is(err, ErrFrameTimeout))
	assert.Equal(t, "Response: Su", frame.String())
}

func TestReadFrameContextCancel(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := NewFrameReader(server).ReadFrame(ctx, time.Now().Add(5*time.Second))
	require.ErrorIs(t, err, ErrFrameTimeout)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadFrameTooLarge(t *testing.T) {
	reader := newFrameReaderWithTransport(nopConn(t), chunkedTransport([][]byte{
		[]byte(strings.Repeat("x", 64)),
	}), 32)

	frame, err := reader.ReadFrame(context.Background(), time.Now().Add(time.Second))
	require.ErrorIs(t, err, ErrFrameTooLarge)
	assert.False(t, frame.Complete)
}

// nopConn returns a pipe end used only for its deadline methods.
func nopConn(t *testing.T) net.Conn {
	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	return server
}
