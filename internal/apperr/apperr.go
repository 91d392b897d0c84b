// Package apperr classifies errors into the two classes the handler and
// transport layer use to decide ack/retry behavior (§7): Permanent (ack
// and drop) and Transient (leave unacked for redelivery). Transport and
// configuration errors have no type of their own here.
package apperr

import "errors"

// ErrNotInPrefixTree is a permanent error: the referenced net has no
// PrefixTree row. The message is acked and dropped, never retried.
var ErrNotInPrefixTree = errors.New("apperr: net is not in the prefix tree")

// ErrNoActiveAnalysis is a permanent error: no open SplitAnalysis matches
// the follow-up token carried by a trace response.
var ErrNoActiveAnalysis = errors.New("apperr: no active analysis for this follow-up")

// Transient wraps a DB/transport error that should cause the message to
// remain unacked for redelivery.
type Transient struct{ Err error }

func (t *Transient) Error() string { return "transient: " + t.Err.Error() }
func (t *Transient) Unwrap() error { return t.Err }

// Permanent wraps a domain error (malformed message, missing row) that
// should be logged, acked, and dropped.
type Permanent struct{ Err error }

func (p *Permanent) Error() string { return "permanent: " + p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// IsPermanent reports whether err (or a wrapped ErrNotInPrefixTree /
// ErrNoActiveAnalysis) should be treated as a permanent, ack-and-drop
// failure.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var p *Permanent
	if errors.As(err, &p) {
		return true
	}
	return errors.Is(err, ErrNotInPrefixTree) || errors.Is(err, ErrNoActiveAnalysis)
}

// IsTransient reports whether err should leave the message unacked.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var t *Transient
	return errors.As(err, &t)
}
