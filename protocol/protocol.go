// Package protocol implements the binary envelope used for streamed frames.
//
// A WebSocket binary message carries exactly one envelope: a 4-byte length
// prefix, a compact JSON header of that length, then the raw payload. The
// receiver reads the prefix first, parses only the header, and takes the
// rest of the message as payload without scanning it.
//
// Envelope format:
//
//	0          4                 4+hdrLen
//	┌──────────┬─────────────────┬──────────────────────┐
//	│  hdrLen  │   header JSON   │   payload ...        │
//	│  uint32  │ {"id","type",   │   raw image bytes    │
//	│  big-end │  "seq"}         │   (no base64)        │
//	└──────────┴─────────────────┴──────────────────────┘
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf8"
)

// PrefixSize is the width of the big-endian header length prefix.
const PrefixSize = 4

// FrameTypeScreenshot is the only frame type the agent emits today.
const FrameTypeScreenshot = "screenshot"

// ErrMalformedEnvelope is returned when a byte sequence cannot be split into
// header and payload, or when a header cannot be encoded.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// FrameHeader is the JSON header carried by every screenshot envelope.
type FrameHeader struct {
	ID   string `json:"id"`   // Run id the frame belongs to
	Type string `json:"type"` // Always "screenshot" for now
	Seq  int64  `json:"seq"`  // Send time in unix millis, strictly increasing per stream
}

// Encode serializes header to compact JSON, prefixes its byte length as a
// 4-byte big-endian unsigned integer and appends payload unchanged.
func Encode(header any, payload []byte) ([]byte, error) {
	headerJSON, err := marshalHeader(header)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, PrefixSize+len(headerJSON)+len(payload))
	// Length prefix: 4 bytes, network byte order
	binary.BigEndian.PutUint32(buf[0:PrefixSize], uint32(len(headerJSON)))
	// Header JSON
	copy(buf[PrefixSize:], headerJSON)
	// Payload, byte-exact
	copy(buf[PrefixSize+len(headerJSON):], payload)
	return buf, nil
}

// Decode splits an envelope into its raw header JSON and payload.
// The returned slices alias data.
func Decode(data []byte) (json.RawMessage, []byte, error) {
	// Step 1: the prefix must be complete
	if len(data) < PrefixSize {
		return nil, nil, fmt.Errorf("%w: need %d prefix bytes, have %d", ErrMalformedEnvelope, PrefixSize, len(data))
	}

	// Step 2: the declared header must fit in what is left
	headerLen := binary.BigEndian.Uint32(data[0:PrefixSize])
	rest := data[PrefixSize:]
	if uint64(headerLen) > uint64(len(rest)) {
		return nil, nil, fmt.Errorf("%w: header length %d exceeds remaining %d bytes", ErrMalformedEnvelope, headerLen, len(rest))
	}

	return json.RawMessage(rest[:headerLen]), rest[headerLen:], nil
}

// EncodeFrame encodes a screenshot envelope.
func EncodeFrame(h *FrameHeader, payload []byte) ([]byte, error) {
	if h == nil {
		return nil, fmt.Errorf("%w: nil frame header", ErrMalformedEnvelope)
	}
	return Encode(h, payload)
}

// DecodeFrame decodes an envelope whose header has the FrameHeader shape.
func DecodeFrame(data []byte) (*FrameHeader, []byte, error) {
	raw, payload, err := Decode(data)
	if err != nil {
		return nil, nil, err
	}
	var h FrameHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, nil, fmt.Errorf("%w: header: %v", ErrMalformedEnvelope, err)
	}
	return &h, payload, nil
}

// WriteEnvelope writes one envelope to w. Callers sharing w across
// goroutines must serialize calls, otherwise envelopes interleave.
func WriteEnvelope(w io.Writer, header any, payload []byte) error {
	headerJSON, err := marshalHeader(header)
	if err != nil {
		return err
	}

	prefix := make([]byte, PrefixSize)
	binary.BigEndian.PutUint32(prefix, uint32(len(headerJSON)))
	if _, err := w.Write(prefix); err != nil {
		return err
	}
	if _, err := w.Write(headerJSON); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return nil
}

// ReadEnvelope reads a prefix and header from r, then payloadLen bytes of
// payload. A byte stream has no message boundary, so the payload length
// must be known to the caller.
func ReadEnvelope(r io.Reader, payloadLen int) (json.RawMessage, []byte, error) {
	prefix := make([]byte, PrefixSize)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, nil, err
	}

	header := make([]byte, binary.BigEndian.Uint32(prefix))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, nil, err
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, nil, err
	}
	return header, payload, nil
}

func marshalHeader(header any) ([]byte, error) {
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if !utf8.Valid(headerJSON) {
		return nil, fmt.Errorf("%w: header is not valid UTF-8", ErrMalformedEnvelope)
	}
	if uint64(len(headerJSON)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: header too large (%d bytes)", ErrMalformedEnvelope, len(headerJSON))
	}
	return headerJSON, nil
}
