package smig

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// DefaultSubscribeOptions is the consumer configuration the migration
// pipeline runs with: bounded handlers, no prefetch, and a lock-renewal
// ceiling long enough to cover slow downloads.
func DefaultSubscribeOptions() SubscribeOptions {
	return SubscribeOptions{
		MaxConcurrent: 10,
		Prefetch:      0,
		LockRenewal:   24 * time.Hour,
	}
}

// Producer enqueues files that need migrating. Files already up to date in
// blob storage are skipped.
type Producer struct {
	decider *SyncDecider
	queue   Queue
	logger  Logger
}

func NewProducer(decider *SyncDecider, queue Queue, logger Logger) *Producer {
	return &Producer{decider: decider, queue: queue, logger: logger}
}

// Enqueue publishes fd to the queue if it needs migrating. Returns true if
// a message was sent.
func (p *Producer) Enqueue(ctx context.Context, fd *FileDescriptor) (bool, error) {
	needed, err := p.decider.NeedsMigration(ctx, fd)
	if err != nil {
		return false, err
	}
	if !needed {
		p.logger.Debug("file up to date, not enqueued", "url", fd.FullURL())
		return false, nil
	}

	body, err := json.Marshal(fd)
	if err != nil {
		return false, fmt.Errorf("serializing descriptor for %s: %w", fd.FilePath, err)
	}
	if err := p.queue.Send(ctx, body); err != nil {
		return false, fmt.Errorf("enqueuing %s: %w", fd.FilePath, err)
	}

	p.logger.Debug("file enqueued for migration", "url", fd.FullURL())
	return true, nil
}

// EnqueueAll runs the decision for every descriptor and returns how many
// messages were sent. Per-file failures are logged and skipped so one bad
// file never aborts the batch.
func (p *Producer) EnqueueAll(ctx context.Context, fds []*FileDescriptor) (int, error) {
	sent := 0
	for _, fd := range fds {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		ok, err := p.Enqueue(ctx, fd)
		if err != nil {
			p.logger.Error("enqueue failed, skipping file", "path", fd.FilePath, "error", err)
			continue
		}
		if ok {
			sent++
		}
	}
	return sent, nil
}

// processedLogInterval is how many handled messages pass between progress
// log lines.
const processedLogInterval = 50

// Consumer is a long-lived queue worker that downloads and uploads each
// queued file, settling messages explicitly:
//
//   - unparseable or invalid payloads are dead-lettered;
//   - successful migrations are completed, then logged to the store;
//   - failed migrations are error-logged and abandoned for redelivery.
type Consumer struct {
	uploader *Uploader
	store    Store
	queue    Queue
	logger   Logger
	clock    Clock

	mu        sync.Mutex
	inflight  map[string]struct{}
	processed int64
}

func NewConsumer(uploader *Uploader, store Store, queue Queue, logger Logger, clock Clock) *Consumer {
	return &Consumer{
		uploader: uploader,
		store:    store,
		queue:    queue,
		logger:   logger,
		clock:    clock,
		inflight: make(map[string]struct{}),
	}
}

// Run subscribes the consumer to the queue and returns once the
// subscription is established. Handling continues until ctx is cancelled.
// Queue infrastructure errors are logged and do not stop the receiver.
func (c *Consumer) Run(ctx context.Context, opts SubscribeOptions) error {
	if opts.OnError == nil {
		opts.OnError = func(err error) {
			c.logger.Error("queue error", "error", err)
		}
	}
	return c.queue.Subscribe(ctx, opts, c.handle)
}

func (c *Consumer) handle(ctx context.Context, msg Message, acts MessageActions) {
	defer c.countProcessed()

	var fd FileDescriptor
	if err := json.Unmarshal(msg.Body, &fd); err != nil {
		c.logger.Warn("dead-lettering unparseable message", "id", msg.ID, "error", err)
		c.settle(ctx, "dead-letter", func() error { return acts.DeadLetter(ctx, "payload does not parse: "+err.Error()) })
		return
	}
	if !fd.IsValid() {
		c.logger.Warn("dead-lettering invalid descriptor", "id", msg.ID, "path", fd.FilePath)
		c.settle(ctx, "dead-letter", func() error { return acts.DeadLetter(ctx, "descriptor invalid") })
		return
	}

	url := fd.FullURL()
	if !c.beginImport(url) {
		// A redelivery raced an in-flight attempt in this process. Leave
		// the message unsettled; the lock will expire and the queue will
		// redeliver once the in-flight attempt is done.
		c.logger.Warn("file already importing, skipping redelivery", "url", url)
		return
	}
	err := c.uploader.Upload(ctx, &fd)
	c.endImport(url)

	if err != nil {
		c.logger.Error("migration failed, abandoning message", "url", url, "error", err)
		if logErr := c.store.UpsertMigrationError(ctx, MigrationErrorLogEntry{
			URL:        url,
			Error:      err.Error(),
			OccurredAt: c.clock.Now(),
		}); logErr != nil {
			c.logger.Error("writing error log failed", "url", url, "error", logErr)
		}
		c.settle(ctx, "abandon", func() error { return acts.Abandon(ctx) })
		return
	}

	c.settle(ctx, "complete", func() error { return acts.Complete(ctx) })

	if err := c.store.UpsertMigrationLog(ctx, MigrationLogEntry{
		URL:          url,
		LastModified: fd.LastModified,
		MigratedAt:   c.clock.Now(),
	}); err != nil {
		// The blob is already in place; the next decider pass will see the
		// missing log entry and re-run, converging via the hash check.
		c.logger.Error("writing migration log failed", "url", url, "error", err)
		return
	}

	c.logger.Info("file migrated", "url", url)
}

func (c *Consumer) settle(ctx context.Context, action string, fn func() error) {
	if err := fn(); err != nil {
		c.logger.Error("settling message failed", "action", action, "error", err)
	}
}

// beginImport registers url as in flight. Returns false if an import of the
// same URL is already running in this process. This defends against
// redelivery racing an in-flight attempt; it is not cross-process exclusion.
func (c *Consumer) beginImport(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inflight[url]; ok {
		return false
	}
	c.inflight[url] = struct{}{}
	return true
}

func (c *Consumer) endImport(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, url)
}

func (c *Consumer) countProcessed() {
	c.mu.Lock()
	c.processed++
	n := c.processed
	c.mu.Unlock()
	if n%processedLogInterval == 0 {
		c.logger.Info("messages processed", "count", n)
	}
}

// Processed returns how many messages this consumer has handled.
func (c *Consumer) Processed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processed
}
