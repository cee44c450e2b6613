package protocol

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
)

// NewFrameID returns a cryptographically random 32-bit frame id, used
// when the caller has no id of its own to correlate on.
func NewFrameID() int32 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand never fails on supported platforms; if it somehow
		// does, a zero id is still a valid correlation token.
		return 0
	}
	return int32(binary.LittleEndian.Uint32(buf[:]))
}

// Encode serializes a frame. The output is exactly 14+len(body) bytes:
// size, id and kind as little-endian int32, the body bytes, then a
// 16-bit big-endian zero terminator.
func Encode(id int32, kind Kind, body string) []byte {
	buf := make([]byte, HeaderSize+len(body)+2)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(FrameOverhead+len(body)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(id))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(kind))
	copy(buf[HeaderSize:], body)
	binary.BigEndian.PutUint16(buf[HeaderSize+len(body):], 0)
	return buf
}

// EncodeFrame serializes f, ignoring f.Size and deriving it from the body.
func EncodeFrame(f Frame) []byte {
	return Encode(f.ID, f.Kind, f.Body)
}

// Decode parses a full frame buffer (size prefix included). It never
// returns an error: the declared size is not checked against the buffer
// length, matching the trust model of the original protocol, and short
// or malformed input yields a frame with whatever fields were present.
// Callers classify unknown kinds defensively instead of rejecting them.
func Decode(buf []byte) Frame {
	var f Frame
	if len(buf) >= 4 {
		f.Size = int32(binary.LittleEndian.Uint32(buf[0:4]))
	}
	if len(buf) >= 8 {
		f.ID = int32(binary.LittleEndian.Uint32(buf[4:8]))
	}
	if len(buf) >= HeaderSize {
		f.Kind = Kind(binary.LittleEndian.Uint32(buf[8:12]))
	}

	// Body spans offset 12 up to size+2, the byte before the terminator.
	end := int(f.Size) + 2
	if end > len(buf) {
		end = len(buf)
	}
	if end > HeaderSize {
		f.Body = string(buf[HeaderSize:end])
	}
	return f
}

// ReadFrame reads one complete frame from a stream. The 4-byte size
// prefix is validated before the remainder is read, since a stream
// reader cannot resynchronize after trusting a garbage length.
func ReadFrame(r io.Reader) (Frame, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Frame{}, err
	}

	size := int32(binary.LittleEndian.Uint32(prefix[:]))
	if size < FrameOverhead {
		return Frame{}, fmt.Errorf("frame size %d below minimum %d", size, FrameOverhead)
	}
	if size > FrameOverhead+MaxBodyBytes {
		return Frame{}, fmt.Errorf("frame size %d exceeds limit %d", size, FrameOverhead+MaxBodyBytes)
	}

	buf := make([]byte, 4+int(size))
	copy(buf, prefix[:])
	if _, err := io.ReadFull(r, buf[4:]); err != nil {
		return Frame{}, fmt.Errorf("failed to read frame payload (%d bytes): %w", size, err)
	}

	return Decode(buf), nil
}

// WriteFrame encodes f and writes it to w in a single call.
func WriteFrame(w io.Writer, f Frame) error {
	if _, err := w.Write(EncodeFrame(f)); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}
