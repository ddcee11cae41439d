package stream

import (
	"time"

	"github.com/fasthttp/websocket"
)

// Backoff computes reconnect delays:
//
//	min(Max, Base * 2^min(attempt, Cap)) + jitter
//
// where jitter is uniform in [0, Jitter).
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Cap    int
	Jitter time.Duration
}

// Delay returns the wait before reconnect attempt number attempt (0-based).
// rnd returns a value in [0, 1); nil disables jitter.
func (b Backoff) Delay(attempt int, rnd func() float64) time.Duration {
	exp := attempt
	if exp > b.Cap {
		exp = b.Cap
	}
	if exp < 0 {
		exp = 0
	}
	// Shifts past 62 overflow int64.
	if exp > 62 {
		exp = 62
	}

	d := b.Base << uint(exp)
	if d <= 0 || d > b.Max || d>>uint(exp) != b.Base {
		d = b.Max
	}
	if b.Jitter > 0 && rnd != nil {
		d += time.Duration(rnd() * float64(b.Jitter))
	}
	return d
}

// IsGraceful reports whether a close code is a normal shutdown rather than
// a failure: normal closure, or the peer going away (navigation, restart).
func IsGraceful(code int) bool {
	return code == websocket.CloseNormalClosure || code == websocket.CloseGoingAway
}
