package domain

import (
	"bytes"
	"errors"
)

// Event is one password-change request as seen by the pipeline. Digests are
// already hashed by the caller; plaintext never enters this package.
type Event struct {
	UserID           string
	RequestedAtUTCNs int64
	OldDigest        []byte
	NewDigest        []byte
}

var (
	ErrEmptyUserID   = errors.New("user_id is required")
	ErrDigestsEqual  = errors.New("old and new digests are identical")
	ErrDigestLength  = errors.New("digest length does not match deployment digest length")
	ErrUserIDTooLong = errors.New("user_id too long for strand length prefix")
)

// Validate checks the event invariants against the deployment digest length.
func (e Event) Validate(digestLen int) error {
	if e.UserID == "" {
		return ErrEmptyUserID
	}
	if len(e.OldDigest) != digestLen || len(e.NewDigest) != digestLen {
		return ErrDigestLength
	}
	if bytes.Equal(e.OldDigest, e.NewDigest) {
		return ErrDigestsEqual
	}
	return nil
}

// Equal reports byte-identical field equality, the round-trip contract.
func (e Event) Equal(o Event) bool {
	return e.UserID == o.UserID &&
		e.RequestedAtUTCNs == o.RequestedAtUTCNs &&
		bytes.Equal(e.OldDigest, o.OldDigest) &&
		bytes.Equal(e.NewDigest, o.NewDigest)
}

type SubmitMode int

const (
	FireAndForget SubmitMode = iota
	AwaitCommit
)

type SubmitResult int

const (
	ResultQueued SubmitResult = iota
	ResultCommitted
	ResultFailed
	ResultInvalid
	ResultOverloaded
	ResultDeadlineExceeded
)

func (r SubmitResult) String() string {
	switch r {
	case ResultQueued:
		return "queued"
	case ResultCommitted:
		return "committed"
	case ResultFailed:
		return "failed"
	case ResultInvalid:
		return "invalid"
	case ResultOverloaded:
		return "overloaded"
	case ResultDeadlineExceeded:
		return "deadline_exceeded"
	default:
		return "unknown"
	}
}
