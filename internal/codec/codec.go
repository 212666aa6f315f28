// Package codec implements the strand wire format: a password-change event
// serialized to a fixed-alphabet symbol sequence.
//
// Strand layout, in symbols drawn from {A, C, G, T} (2 bits each):
//
//	[4 length-prefix symbols][4*payloadLen payload symbols][checksum group]
//
// The length prefix packs the payload byte count. The payload packs, big-endian:
// uint16 user-id length, user-id bytes, int64 requested-at unix-nanos, old
// digest, new digest. The checksum group is the rolling sum of the payload
// symbol values reduced mod 4, repeated to the configured width.
package codec

import (
	"encoding/binary"
	"fmt"

	"strandpipe/internal/domain"
)

// Alphabet maps each 2-bit value to its strand symbol.
const Alphabet = "ACGT"

const lengthPrefixSymbols = 4

// MaxPayloadBytes is bounded by the 4-symbol (one byte) length prefix.
const MaxPayloadBytes = 255

type DecodeReason int

const (
	BadAlphabet DecodeReason = iota
	LengthMismatch
	ChecksumMismatch
)

func (r DecodeReason) String() string {
	switch r {
	case BadAlphabet:
		return "bad_alphabet"
	case LengthMismatch:
		return "length_mismatch"
	case ChecksumMismatch:
		return "checksum_mismatch"
	default:
		return "unknown"
	}
}

// DecodeFailure marks a strand as a poisoned record. Consumers log and drop
// it; it must never surface as a panic or a wrong-but-valid event.
type DecodeFailure struct {
	Reason DecodeReason
	Detail string
}

func (f *DecodeFailure) Error() string {
	return fmt.Sprintf("decode strand: %s: %s", f.Reason, f.Detail)
}

// Codec encodes events for a single deployment. DigestLen and ChecksumWidth
// are deployment constants; strands are only interoperable between codecs
// constructed with identical values.
type Codec struct {
	digestLen     int
	checksumWidth int
}

func New(digestLen, checksumWidth int) (*Codec, error) {
	if digestLen <= 0 {
		return nil, fmt.Errorf("codec: digest length must be positive, got %d", digestLen)
	}
	if checksumWidth <= 0 {
		return nil, fmt.Errorf("codec: checksum width must be positive, got %d", checksumWidth)
	}
	if payloadLen(0, digestLen) > MaxPayloadBytes {
		return nil, fmt.Errorf("codec: digest length %d overflows strand length prefix", digestLen)
	}
	return &Codec{digestLen: digestLen, checksumWidth: checksumWidth}, nil
}

func (c *Codec) DigestLen() int { return c.digestLen }

// StrandLen returns the total strand length in symbols for a given user id
// length, the fixed expansion ratio callers can rely on.
func (c *Codec) StrandLen(userIDLen int) int {
	return lengthPrefixSymbols + 4*payloadLen(userIDLen, c.digestLen) + c.checksumWidth
}

func payloadLen(userIDLen, digestLen int) int {
	return 2 + userIDLen + 8 + 2*digestLen
}

// Encode serializes a valid event into an immutable strand. It never fails
// for well-formed input; malformed events report the caller error unwrapped
// from the domain sentinels.
func (c *Codec) Encode(ev domain.Event) ([]byte, error) {
	if err := ev.Validate(c.digestLen); err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	n := payloadLen(len(ev.UserID), c.digestLen)
	if n > MaxPayloadBytes {
		return nil, fmt.Errorf("encode event: %w", domain.ErrUserIDTooLong)
	}

	payload := make([]byte, 0, n)
	payload = binary.BigEndian.AppendUint16(payload, uint16(len(ev.UserID)))
	payload = append(payload, ev.UserID...)
	payload = binary.BigEndian.AppendUint64(payload, uint64(ev.RequestedAtUTCNs))
	payload = append(payload, ev.OldDigest...)
	payload = append(payload, ev.NewDigest...)

	strand := make([]byte, 0, c.StrandLen(len(ev.UserID)))
	strand = packByte(strand, byte(n))
	for _, b := range payload {
		strand = packByte(strand, b)
	}
	sum := checksum(strand[lengthPrefixSymbols:])
	for i := 0; i < c.checksumWidth; i++ {
		strand = append(strand, Alphabet[sum])
	}
	return strand, nil
}

// Decode validates and deserializes a strand. Any structural violation yields
// a *DecodeFailure, never a panic and never a wrong-but-valid event.
func (c *Codec) Decode(strand []byte) (domain.Event, error) {
	for i, s := range strand {
		if symbolValue(s) < 0 {
			return domain.Event{}, &DecodeFailure{Reason: BadAlphabet, Detail: fmt.Sprintf("symbol %q at offset %d", s, i)}
		}
	}
	if len(strand) < lengthPrefixSymbols+c.checksumWidth {
		return domain.Event{}, &DecodeFailure{Reason: LengthMismatch, Detail: fmt.Sprintf("strand of %d symbols shorter than framing", len(strand))}
	}
	claimed := int(unpackByte(strand[:lengthPrefixSymbols]))
	if got, want := len(strand), lengthPrefixSymbols+4*claimed+c.checksumWidth; got != want {
		return domain.Event{}, &DecodeFailure{Reason: LengthMismatch, Detail: fmt.Sprintf("length prefix claims %d payload bytes, want %d symbols, got %d", claimed, want, got)}
	}
	body := strand[lengthPrefixSymbols : len(strand)-c.checksumWidth]
	sum := checksum(body)
	for _, s := range strand[len(strand)-c.checksumWidth:] {
		if s != Alphabet[sum] {
			return domain.Event{}, &DecodeFailure{Reason: ChecksumMismatch, Detail: "checksum group does not match payload"}
		}
	}

	payload := make([]byte, 0, claimed)
	for i := 0; i < len(body); i += 4 {
		payload = append(payload, unpackByte(body[i:i+4]))
	}
	return c.parsePayload(payload)
}

func (c *Codec) parsePayload(payload []byte) (domain.Event, error) {
	if len(payload) < 2 {
		return domain.Event{}, &DecodeFailure{Reason: LengthMismatch, Detail: "payload shorter than user_id length field"}
	}
	userLen := int(binary.BigEndian.Uint16(payload[:2]))
	if userLen == 0 {
		return domain.Event{}, &DecodeFailure{Reason: LengthMismatch, Detail: "payload carries empty user_id"}
	}
	if want := payloadLen(userLen, c.digestLen); len(payload) != want {
		return domain.Event{}, &DecodeFailure{Reason: LengthMismatch, Detail: fmt.Sprintf("payload of %d bytes, user_id length implies %d", len(payload), want)}
	}
	off := 2
	userID := string(payload[off : off+userLen])
	off += userLen
	ts := int64(binary.BigEndian.Uint64(payload[off : off+8]))
	off += 8
	old := append([]byte(nil), payload[off:off+c.digestLen]...)
	off += c.digestLen
	newDigest := append([]byte(nil), payload[off:off+c.digestLen]...)

	return domain.Event{
		UserID:           userID,
		RequestedAtUTCNs: ts,
		OldDigest:        old,
		NewDigest:        newDigest,
	}, nil
}

// packByte appends the four symbols for one byte, most significant bits first.
func packByte(dst []byte, b byte) []byte {
	return append(dst, Alphabet[b>>6&3], Alphabet[b>>4&3], Alphabet[b>>2&3], Alphabet[b&3])
}

func unpackByte(symbols []byte) byte {
	var b byte
	for _, s := range symbols {
		b = b<<2 | byte(symbolValue(s))
	}
	return b
}

func symbolValue(s byte) int {
	switch s {
	case 'A':
		return 0
	case 'C':
		return 1
	case 'G':
		return 2
	case 'T':
		return 3
	default:
		return -1
	}
}

// checksum folds symbol values into a single value mod the alphabet size, so
// any single-symbol substitution inside the payload shifts the sum.
func checksum(symbols []byte) int {
	sum := 0
	for _, s := range symbols {
		sum += symbolValue(s)
	}
	return sum & 3
}
