package tds

import "sync/atomic"

// CancelHandle lets a caller request out-of-band cancellation of
// whatever request is currently in flight on a session, from any
// goroutine, while the session's own goroutine is blocked reading a
// result set (spec.md §4.5/§5).
//
// It holds only the write half of the split transport; a CancelHandle
// never touches the read half, so it cannot race with the owning
// goroutine's token parsing.
type CancelHandle struct {
	write WriteHalf
	enc   *Encoder

	// inFlight guards against sending a second Attention while one is
	// already outstanding; per spec.md §4.5 this makes Cancel idempotent
	// from the caller's perspective even though the server tolerates a
	// duplicate send.
	inFlight int32
}

// newCancelHandle builds a handle over the write half and encoder a
// session is already using, so the Attention packet's packet_id comes
// from the same sequence counter as ordinary traffic.
func newCancelHandle(wh WriteHalf, enc *Encoder) *CancelHandle {
	return &CancelHandle{write: wh, enc: enc}
}

// Cancel sends a zero-payload Attention packet if one is not already
// outstanding. A second call while the first's DONE.ATTN acknowledgment
// hasn't arrived yet is a no-op.
func (c *CancelHandle) Cancel() error {
	if !atomic.CompareAndSwapInt32(&c.inFlight, 0, 1) {
		return nil
	}
	return c.write.WriteAttention(c.enc)
}

// acknowledged is called by the session's read loop once it observes a
// DONE token with the ATTN status bit set, returning the handle to its
// quiescent state so a future Cancel can send again.
func (c *CancelHandle) acknowledged() {
	atomic.StoreInt32(&c.inFlight, 0)
}
