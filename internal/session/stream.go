package session

import (
	"errors"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
)

// notificationPipe moves notification bytes from transport callbacks to the
// session goroutine. Writes never block; bytes that do not fit are dropped and counted.
type notificationPipe struct {
	buf     *ringbuffer.RingBuffer
	notify  chan struct{}
	logger  *logrus.Logger
	dropped atomic.Uint64
	scratch []byte
}

func newNotificationPipe(capacity int, logger *logrus.Logger) *notificationPipe {
	return &notificationPipe{
		buf:     ringbuffer.New(capacity),
		notify:  make(chan struct{}, 1),
		logger:  logger,
		scratch: make([]byte, 4096),
	}
}

// Write is the notification handler. It is called on the transport goroutine.
func (p *notificationPipe) Write(data []byte) {
	if len(data) == 0 {
		return
	}
	written, err := p.buf.Write(data)
	if written < len(data) {
		dropped := len(data) - written
		p.dropped.Add(uint64(dropped))
		entry := p.logger.WithFields(logrus.Fields{
			"dropped":  dropped,
			"received": len(data),
		})
		if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
			entry = entry.WithError(err)
		}
		entry.Warn("Notification buffer overflow")
	}

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Ready is signalled after each Write.
func (p *notificationPipe) Ready() <-chan struct{} {
	return p.notify
}

// Drain returns all buffered bytes. The result is valid until the next Drain.
func (p *notificationPipe) Drain() []byte {
	var out []byte
	for {
		n, err := p.buf.TryRead(p.scratch)
		if n > 0 {
			out = append(out, p.scratch[:n]...)
		}
		if err != nil || n == 0 {
			return out
		}
	}
}

// Reset discards buffered bytes.
func (p *notificationPipe) Reset() {
	p.buf.Reset()
}

// Dropped is the number of bytes lost to overflow.
func (p *notificationPipe) Dropped() uint64 {
	return p.dropped.Load()
}
