package rtsp

import (
	"context"
	"time"
)

// maxStopWait caps how long TearDown waits for the keep-alive worker.
const maxStopWait = 5 * time.Second

// KeepAliveInterval returns the refresh period for a session timeout of
// ttl seconds: slightly less than the timeout itself.
func KeepAliveInterval(ttl int) time.Duration {
	if ttl <= 0 {
		ttl = DefaultSessionTimeout
	}
	return time.Duration(ttl)*time.Second - 20*time.Millisecond
}

type keepAlive struct {
	stop chan struct{}
	done chan struct{}
}

// startKeepAlive starts the worker if none is running. Caller holds c.mu.
func (c *Client) startKeepAlive() {
	if c.ka != nil {
		return
	}
	ka := &keepAlive{stop: make(chan struct{}), done: make(chan struct{})}
	c.ka = ka
	go c.keepAliveLoop(ka)
	c.log.Debug("keep-alive started")
}

// keepAliveLoop sends OPTIONS once per interval. The interval is read
// again every tick since PLAY and OPTIONS responses may change the
// session timeout. Failures are logged and retried on the next tick.
func (c *Client) keepAliveLoop(ka *keepAlive) {
	defer close(ka.done)
	for {
		c.mu.Lock()
		interval := KeepAliveInterval(c.session.Timeout)
		c.mu.Unlock()

		t := time.NewTimer(interval)
		select {
		case <-ka.stop:
			t.Stop()
			return
		case <-t.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
		status, err := c.Options(ctx)
		cancel()
		if err != nil {
			c.log.Warn("keep-alive failed", "status", int(status), "error", err)
			continue
		}
		c.log.Debug("keep-alive", "status", int(status))
	}
}

// stopKeepAlive signals the worker and waits up to one interval, capped
// at five seconds. Must be called without c.mu held.
func (c *Client) stopKeepAlive(ka *keepAlive, ttl int) {
	if ka == nil {
		return
	}
	close(ka.stop)
	wait := KeepAliveInterval(ttl)
	if wait > maxStopWait {
		wait = maxStopWait
	}
	select {
	case <-ka.done:
		c.log.Debug("keep-alive stopped")
	case <-time.After(wait):
		c.log.Error("keep-alive worker did not stop in time", "waited", wait)
	}
}
