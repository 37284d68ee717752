package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame's payload to guard against a corrupt or
// malicious length prefix allocating unbounded memory.
const MaxFrameSize = 64 << 20 // 64 MiB

// WriteFrame encodes v with gob and writes it to w as a length-prefixed
// frame: a u32 big-endian length followed by the payload.
func WriteFrame(w io.Writer, v any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("wire: encode frame: %w", err)
	}
	if buf.Len() > MaxFrameSize {
		return fmt.Errorf("wire: frame too large: %d bytes", buf.Len())
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("wire: write frame length: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("wire: write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r and decodes it into v,
// which must be a pointer to a Request or Response.
func ReadFrame(r io.Reader, v any) error {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return err // EOF propagates unwrapped so callers can detect clean close
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > MaxFrameSize {
		return fmt.Errorf("wire: frame length %d exceeds max %d", n, MaxFrameSize)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("wire: read frame payload: %w", err)
	}
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(v); err != nil {
		return fmt.Errorf("wire: decode frame: %w", err)
	}
	return nil
}

// WriteRequest and WriteResponse are typed conveniences over WriteFrame.
func WriteRequest(w io.Writer, req Request) error  { return WriteFrame(w, req) }
func WriteResponse(w io.Writer, resp Response) error { return WriteFrame(w, resp) }

// ReadRequest and ReadResponse are typed conveniences over ReadFrame.
func ReadRequest(r io.Reader) (Request, error) {
	var req Request
	err := ReadFrame(r, &req)
	return req, err
}

func ReadResponse(r io.Reader) (Response, error) {
	var resp Response
	err := ReadFrame(r, &resp)
	return resp, err
}
