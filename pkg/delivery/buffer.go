// Package delivery converts incremental text fragments into a bounded
// sequence of channel sends and edits. One Buffer serves exactly one turn;
// it is finalized once and never reused.
package delivery

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/corvid-ai/corvid/internal/observability"
	"github.com/rs/zerolog"
)

// Messenger is the channel surface a buffer delivers through. Send returns
// the identifier of the new message; Edit replaces the content of an
// existing one.
type Messenger interface {
	Send(ctx context.Context, text string) (string, error)
	Edit(ctx context.Context, messageID, text string) error
}

// Config tunes the debounce thresholds. Zero values take the defaults.
type Config struct {
	MinChars    int           // accumulated characters required before an edit
	MinInterval time.Duration // minimum spacing between flushes
}

func (c *Config) applyDefaults() {
	if c.MinChars <= 0 {
		c.MinChars = 50
	}
	if c.MinInterval <= 0 {
		c.MinInterval = time.Second
	}
}

// Buffer accumulates streamed fragments and forwards them to a Messenger
// with bounded edit frequency. The very first fragment flushes immediately
// so the user sees a fast first response; later flushes wait for both enough
// new content and enough elapsed time.
type Buffer struct {
	messenger Messenger
	logger    zerolog.Logger
	cfg       Config
	onError   func(error)

	// flushMu serializes deliveries: no two flushes for the same buffer are
	// ever in flight concurrently, and Finalize waits on it to drain any
	// in-flight flush.
	flushMu sync.Mutex
	wg      sync.WaitGroup

	mu        sync.Mutex
	buf       strings.Builder
	appended  bool
	messageID string
	lastSent  string
	lastFlush time.Time
	timer     *time.Timer
	finalized bool
	failed    bool
}

// NewBuffer creates a buffer for one turn. onError receives the first
// delivery failure; it may be nil.
func NewBuffer(messenger Messenger, logger zerolog.Logger, cfg Config, onError func(error)) *Buffer {
	cfg.applyDefaults()
	return &Buffer{
		messenger: messenger,
		logger:    logger.With().Str("module", "delivery").Logger(),
		cfg:       cfg,
		onError:   onError,
	}
}

// Append accumulates a streamed fragment and flushes when the debounce
// thresholds allow.
func (b *Buffer) Append(fragment string) {
	if fragment == "" {
		return
	}

	b.mu.Lock()
	if b.finalized || b.failed {
		b.mu.Unlock()
		return
	}
	b.buf.WriteString(fragment)

	if !b.appended {
		b.appended = true
		b.lastFlush = time.Now()
		b.mu.Unlock()
		b.flushAsync()
		return
	}

	pending := b.buf.Len() - len(b.lastSent)
	elapsed := time.Since(b.lastFlush)
	if pending >= b.cfg.MinChars && elapsed >= b.cfg.MinInterval {
		b.lastFlush = time.Now()
		b.mu.Unlock()
		b.flushAsync()
		return
	}

	// Not enough yet: arm a timer for the remaining wait so trailing content
	// still goes out.
	if b.timer == nil {
		remaining := b.cfg.MinInterval - elapsed
		if remaining <= 0 {
			remaining = b.cfg.MinInterval
		}
		b.timer = time.AfterFunc(remaining, func() {
			b.mu.Lock()
			b.timer = nil
			b.mu.Unlock()
			b.flush(context.Background())
		})
	}
	b.mu.Unlock()
}

// Failed reports whether the buffer hit a permanent delivery failure.
func (b *Buffer) Failed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failed
}

// MessageID returns the identifier of the outbound message, or "" when
// nothing has been sent yet.
func (b *Buffer) MessageID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.messageID
}

func (b *Buffer) flushAsync() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.flush(context.Background())
	}()
}

func (b *Buffer) flush(ctx context.Context) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if b.finalized || b.failed {
		b.mu.Unlock()
		return
	}
	content := b.buf.String()
	messageID := b.messageID
	lastSent := b.lastSent
	// Stamp at initiation, not completion: appends arriving while a delivery
	// is in flight must observe the spacing from when this flush started.
	b.lastFlush = time.Now()
	b.mu.Unlock()

	if content == "" || content == lastSent {
		return
	}

	if messageID == "" {
		newID, err := b.messenger.Send(ctx, content)
		if err != nil {
			b.fail(err)
			return
		}
		observability.RecordDelivery("send")
		b.mu.Lock()
		b.messageID = newID
		b.lastSent = content
		b.mu.Unlock()
		return
	}

	if err := b.messenger.Edit(ctx, messageID, content); err != nil {
		b.fail(err)
		return
	}
	observability.RecordDelivery("edit")
	b.mu.Lock()
	b.lastSent = content
	b.mu.Unlock()
}

// fail latches the buffer into its permanently failed state. The error is
// reported through the callback, never thrown further.
func (b *Buffer) fail(err error) {
	b.mu.Lock()
	already := b.failed
	b.failed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()

	if already {
		return
	}
	observability.RecordDeliveryError()
	b.logger.Warn().Err(err).Msg("Delivery failed; buffer disabled for this turn")
	if b.onError != nil {
		b.onError(err)
	}
}

// Finalize settles the outbound message with authoritative final text and
// returns the message identifier. An empty final text returns the existing
// identifier without any channel call; text identical to the last delivered
// content is a no-op. When an edit fails, a brand-new message is sent and
// its identifier adopted.
func (b *Buffer) Finalize(ctx context.Context, finalText string) (string, error) {
	b.mu.Lock()
	if b.finalized {
		id := b.messageID
		b.mu.Unlock()
		return id, nil
	}
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()

	// Drain any in-flight flush before taking over.
	b.wg.Wait()
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	b.finalized = true
	text := finalText
	if text == "" {
		text = b.buf.String()
	}
	text = strings.TrimSpace(text)
	messageID := b.messageID
	lastSent := b.lastSent
	failed := b.failed
	b.mu.Unlock()

	if text == "" || failed {
		return messageID, nil
	}

	if messageID == "" {
		newID, err := b.messenger.Send(ctx, text)
		if err != nil {
			b.fail(err)
			return "", err
		}
		observability.RecordDelivery("send")
		b.mu.Lock()
		b.messageID = newID
		b.lastSent = text
		b.mu.Unlock()
		return newID, nil
	}

	if text == lastSent {
		return messageID, nil
	}

	if err := b.messenger.Edit(ctx, messageID, text); err != nil {
		b.logger.Debug().Err(err).Msg("Final edit failed; sending replacement message")
		newID, sendErr := b.messenger.Send(ctx, text)
		if sendErr != nil {
			b.fail(sendErr)
			return messageID, sendErr
		}
		observability.RecordDelivery("send")
		b.mu.Lock()
		b.messageID = newID
		b.lastSent = text
		b.mu.Unlock()
		return newID, nil
	}
	observability.RecordDelivery("edit")

	b.mu.Lock()
	b.lastSent = text
	b.mu.Unlock()
	return messageID, nil
}
