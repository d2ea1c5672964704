package asyncmqtt

import (
	"time"
)

// keepAliveAction is the outcome of one keep-alive evaluation.
type keepAliveAction int

const (
	keepAliveIdle keepAliveAction = iota
	keepAliveSendPing
	keepAliveTimeout
)

// String returns the string representation of the action.
func (a keepAliveAction) String() string {
	switch a {
	case keepAliveIdle:
		return "idle"
	case keepAliveSendPing:
		return "send ping"
	case keepAliveTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// KeepAliveScheduler decides when to send PINGREQ and when the broker is
// considered dead. A ping is due once either direction has been quiet for
// 70% of the interval. An unanswered ping older than twice the interval is
// a timeout. A zero interval disables the scheduler.
//
// Not safe for concurrent use.
type KeepAliveScheduler struct {
	interval time.Duration

	lastClientActivity time.Time
	lastServerActivity time.Time
	lastPing           time.Time
}

// NewKeepAliveScheduler creates a scheduler for the keep-alive interval
// in seconds.
func NewKeepAliveScheduler(seconds uint16) *KeepAliveScheduler {
	return &KeepAliveScheduler{
		interval: time.Duration(seconds) * time.Second,
	}
}

// Interval returns the keep-alive interval.
func (k *KeepAliveScheduler) Interval() time.Duration {
	return k.interval
}

// Enabled returns false if the interval is zero.
func (k *KeepAliveScheduler) Enabled() bool {
	return k.interval > 0
}

// Start marks both directions active at now and clears the ping marker.
func (k *KeepAliveScheduler) Start(now time.Time) {
	k.lastClientActivity = now
	k.lastServerActivity = now
	k.lastPing = time.Time{}
}

// ClientActivity records a successful write.
func (k *KeepAliveScheduler) ClientActivity(now time.Time) {
	k.lastClientActivity = now
}

// ServerActivity records the start of an inbound packet.
func (k *KeepAliveScheduler) ServerActivity(now time.Time) {
	k.lastServerActivity = now
}

// PingSent marks a PINGREQ as outstanding.
func (k *KeepAliveScheduler) PingSent(now time.Time) {
	k.lastPing = now
	k.lastClientActivity = now
}

// PingResponse clears the outstanding ping.
func (k *KeepAliveScheduler) PingResponse() {
	k.lastPing = time.Time{}
}

// PingOutstanding returns true if a PINGREQ has not been answered yet.
func (k *KeepAliveScheduler) PingOutstanding() bool {
	return !k.lastPing.IsZero()
}

// LastPing returns when the outstanding PINGREQ was sent, or the zero time.
func (k *KeepAliveScheduler) LastPing() time.Time {
	return k.lastPing
}

// Evaluate returns what the session should do at now.
func (k *KeepAliveScheduler) Evaluate(now time.Time) keepAliveAction {
	if k.interval <= 0 {
		return keepAliveIdle
	}

	if k.PingOutstanding() {
		if now.Sub(k.lastPing) >= 2*k.interval {
			return keepAliveTimeout
		}
		return keepAliveIdle
	}

	threshold := k.interval * 7 / 10
	if now.Sub(k.lastClientActivity) >= threshold || now.Sub(k.lastServerActivity) >= threshold {
		return keepAliveSendPing
	}

	return keepAliveIdle
}

// Reset clears all timestamps.
func (k *KeepAliveScheduler) Reset() {
	k.lastClientActivity = time.Time{}
	k.lastServerActivity = time.Time{}
	k.lastPing = time.Time{}
}
