package codec

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
	"testing/quick"
	"time"

	"strandpipe/internal/domain"
)

const testDigestLen = 32

func testCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := New(testDigestLen, 4)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func testEvent() domain.Event {
	old := bytes.Repeat([]byte{0xAB}, testDigestLen)
	next := bytes.Repeat([]byte{0xCD}, testDigestLen)
	return domain.Event{UserID: "trader1", RequestedAtUTCNs: 1735689600000000000, OldDigest: old, NewDigest: next}
}

func TestRoundTrip(t *testing.T) {
	c := testCodec(t)
	ev := testEvent()
	strand, err := c.Encode(ev)
	if err != nil {
		t.Fatal(err)
	}
	if len(strand) != c.StrandLen(len(ev.UserID)) {
		t.Fatalf("strand length %d, want %d", len(strand), c.StrandLen(len(ev.UserID)))
	}
	got, err := c.Decode(strand)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(ev) {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, ev)
	}
}

func TestRoundTripProperty(t *testing.T) {
	c := testCodec(t)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := 0; i < 200; i++ {
		ev := randomEvent(rng)
		strand, err := c.Encode(ev)
		if err != nil {
			t.Fatalf("encode %+v: %v", ev, err)
		}
		got, err := c.Decode(strand)
		if err != nil {
			t.Fatalf("decode %+v: %v", ev, err)
		}
		if !got.Equal(ev) {
			t.Fatalf("round trip mismatch for %+v", ev)
		}
	}
}

func randomEvent(rng *rand.Rand) domain.Event {
	user := make([]byte, 1+rng.Intn(64))
	for i := range user {
		user[i] = byte('a' + rng.Intn(26))
	}
	old := make([]byte, testDigestLen)
	next := make([]byte, testDigestLen)
	rng.Read(old)
	for {
		rng.Read(next)
		if !bytes.Equal(old, next) {
			break
		}
	}
	return domain.Event{UserID: string(user), RequestedAtUTCNs: rng.Int63(), OldDigest: old, NewDigest: next}
}

func TestStrandUsesAlphabetOnly(t *testing.T) {
	c := testCodec(t)
	strand, err := c.Encode(testEvent())
	if err != nil {
		t.Fatal(err)
	}
	if err := quick.Check(func(idx uint) bool {
		s := strand[idx%uint(len(strand))]
		return s == 'A' || s == 'C' || s == 'G' || s == 'T'
	}, nil); err != nil {
		t.Fatal(err)
	}
}

func TestSingleSymbolCorruptionDetected(t *testing.T) {
	c := testCodec(t)
	ev := testEvent()
	strand, err := c.Encode(ev)
	if err != nil {
		t.Fatal(err)
	}
	for i := range strand {
		for _, repl := range []byte(Alphabet) {
			if repl == strand[i] {
				continue
			}
			mutated := append([]byte(nil), strand...)
			mutated[i] = repl
			_, err := c.Decode(mutated)
			var df *DecodeFailure
			if !errors.As(err, &df) {
				t.Fatalf("offset %d -> %q: corruption not detected, got %v", i, repl, err)
			}
			if df.Reason == BadAlphabet {
				t.Fatalf("offset %d: in-alphabet flip reported as bad alphabet", i)
			}
		}
	}
}

func TestCorruptionOutsideAlphabet(t *testing.T) {
	c := testCodec(t)
	strand, err := c.Encode(testEvent())
	if err != nil {
		t.Fatal(err)
	}
	strand[10] = 'X'
	_, err = c.Decode(strand)
	var df *DecodeFailure
	if !errors.As(err, &df) || df.Reason != BadAlphabet {
		t.Fatalf("expected bad alphabet failure, got %v", err)
	}
}

func TestLengthPrefixTamperedToLongerPayload(t *testing.T) {
	c := testCodec(t)
	strand, err := c.Encode(testEvent())
	if err != nil {
		t.Fatal(err)
	}
	claimed := unpackByte(strand[:4])
	tampered := append([]byte(nil), strand...)
	copy(tampered, packByte(nil, claimed+8))
	_, err = c.Decode(tampered)
	var df *DecodeFailure
	if !errors.As(err, &df) || df.Reason != LengthMismatch {
		t.Fatalf("expected length mismatch failure, got %v", err)
	}
}

func TestTruncatedStrand(t *testing.T) {
	c := testCodec(t)
	strand, err := c.Encode(testEvent())
	if err != nil {
		t.Fatal(err)
	}
	for _, cut := range []int{1, 4, len(strand) / 2, len(strand) - 1} {
		_, err := c.Decode(strand[:cut])
		var df *DecodeFailure
		if !errors.As(err, &df) || df.Reason != LengthMismatch {
			t.Fatalf("cut %d: expected length mismatch, got %v", cut, err)
		}
	}
}

func TestEncodeRejectsMalformedEvents(t *testing.T) {
	c := testCodec(t)
	old := bytes.Repeat([]byte{1}, testDigestLen)

	cases := map[string]struct {
		ev   domain.Event
		want error
	}{
		"empty user": {
			ev:   domain.Event{OldDigest: old, NewDigest: bytes.Repeat([]byte{2}, testDigestLen)},
			want: domain.ErrEmptyUserID,
		},
		"equal digests": {
			ev:   domain.Event{UserID: "u", OldDigest: old, NewDigest: append([]byte(nil), old...)},
			want: domain.ErrDigestsEqual,
		},
		"short digest": {
			ev:   domain.Event{UserID: "u", OldDigest: old[:8], NewDigest: bytes.Repeat([]byte{2}, testDigestLen)},
			want: domain.ErrDigestLength,
		},
		"oversized user": {
			ev: domain.Event{
				UserID:    string(bytes.Repeat([]byte{'x'}, MaxPayloadBytes)),
				OldDigest: old,
				NewDigest: bytes.Repeat([]byte{2}, testDigestLen),
			},
			want: domain.ErrUserIDTooLong,
		},
	}
	for name, tc := range cases {
		if _, err := c.Encode(tc.ev); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v, want %v", name, err, tc.want)
		}
	}
}

func TestNewRejectsBadDeploymentConstants(t *testing.T) {
	if _, err := New(0, 4); err == nil {
		t.Fatal("expected error for zero digest length")
	}
	if _, err := New(32, 0); err == nil {
		t.Fatal("expected error for zero checksum width")
	}
	if _, err := New(4096, 4); err == nil {
		t.Fatal("expected error for digest overflowing the length prefix")
	}
}
