// Package sync polls a mailbox and feeds new messages to the inbound
// processor.
package sync

import (
	"bytes"
	"context"
	"io"
	gosync "sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/nhle/acmail/internal/inbound"
	"github.com/nhle/acmail/internal/transport"
)

// State is the current state of the poller.
type State int

const (
	Idle State = iota
	Running
	Failed
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

// Status is a snapshot of the poller.
type Status struct {
	Mailbox  string
	State    State
	LastSync time.Time
	// LastUID is the highest UID handed to the processor.
	LastUID uint32
	Error   error
}

// Fetcher reads raw messages from a mailbox. *inbound.IMAPClient
// implements it.
type Fetcher interface {
	FetchRaw(ctx context.Context, mailbox string, sinceUID uint32, limit int) ([]inbound.RawMessage, error)
	MarkSeen(ctx context.Context, mailbox string, uids ...uint32) error
}

// Processor handles one raw message. *inbound.Receiver implements it.
type Processor interface {
	Process(ctx context.Context, raw io.Reader) (*inbound.Result, error)
}

// MessageResult is the outcome for one fetched message.
type MessageResult struct {
	UID    uint32
	Result *inbound.Result
	Err    error
}

// Batch is the outcome of one poll.
type Batch struct {
	Messages []MessageResult
	// Err is set when the mailbox could not be read.
	Err error
	// AuthFailed reports that Err is a login failure.
	AuthFailed bool
}

// Config controls polling.
type Config struct {
	Mailbox  string
	Interval time.Duration
	// SinceUID skips messages at or below this UID on the first poll.
	SinceUID uint32
	// BatchSize caps messages per poll. Zero means 50.
	BatchSize int
	MarkSeen  bool
	// FetchTimeout bounds one poll. Zero means 30s.
	FetchTimeout time.Duration
}

const (
	defaultInterval     = 120 * time.Second
	defaultBatchSize    = 50
	defaultFetchTimeout = 30 * time.Second
)

// Poller runs Poll on an interval or on demand.
type Poller struct {
	fetcher   Fetcher
	processor Processor
	cfg       Config
	logger    log.Logger

	resultCh  chan Batch
	triggerCh chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}

	pollMu  gosync.Mutex
	mu      gosync.Mutex
	status  Status
	running bool
}

// New returns a Poller. Nothing runs until Start or Poll is called.
func New(f Fetcher, p Processor, cfg Config, logger log.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Poller{
		fetcher:   f,
		processor: p,
		cfg:       cfg,
		logger:    logger,
		resultCh:  make(chan Batch, 16),
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		status:    Status{Mailbox: cfg.Mailbox, LastUID: cfg.SinceUID},
	}
}

// Start launches the polling loop and returns the channel batches are
// delivered on. The channel is closed after Stop or when ctx ends.
// Batches are dropped if the channel is full.
func (p *Poller) Start(ctx context.Context) <-chan Batch {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return p.resultCh
	}
	p.running = true

	go p.loop(ctx)
	return p.resultCh
}

// Stop halts the polling loop and waits for an in-flight poll to end.
// A stopped Poller cannot be restarted.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	<-p.doneCh
}

// Refresh asks the loop to poll now.
func (p *Poller) Refresh() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

// Status returns a snapshot of the poller state.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.doneCh)
	defer close(p.resultCh)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.send(p.Poll(ctx))
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.send(p.Poll(ctx))
		case <-p.triggerCh:
			p.send(p.Poll(ctx))
		}
	}
}

func (p *Poller) send(b Batch) {
	select {
	case p.resultCh <- b:
	default:
		level.Warn(p.logger).Log("msg", "dropping poll result", "messages", len(b.Messages))
	}
}

// Poll fetches messages newer than the last seen UID and processes them
// oldest first. The last seen UID advances past every fetched message,
// so a message the processor rejects is not fetched again.
func (p *Poller) Poll(ctx context.Context) Batch {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	since := p.setRunning()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	msgs, err := p.fetcher.FetchRaw(ctx, p.cfg.Mailbox, since, p.cfg.BatchSize)
	if err != nil {
		p.finish(since, err)
		auth := transport.IsAuthError(err)
		level.Error(p.logger).Log("msg", "fetch failed", "mailbox", p.cfg.Mailbox, "auth", auth, "err", err)
		return Batch{Err: err, AuthFailed: auth}
	}

	batch := Batch{Messages: make([]MessageResult, 0, len(msgs))}
	last := since
	var processed []uint32
	for _, m := range msgs {
		res, err := p.processor.Process(ctx, bytes.NewReader(m.Data))
		if err != nil {
			level.Warn(p.logger).Log("msg", "message not processed", "uid", m.UID, "err", err)
		} else {
			processed = append(processed, m.UID)
		}
		batch.Messages = append(batch.Messages, MessageResult{UID: m.UID, Result: res, Err: err})
		if m.UID > last {
			last = m.UID
		}
	}

	if p.cfg.MarkSeen && len(processed) > 0 {
		if err := p.fetcher.MarkSeen(ctx, p.cfg.Mailbox, processed...); err != nil {
			level.Warn(p.logger).Log("msg", "marking messages seen", "err", err)
		}
	}

	p.finish(last, nil)
	level.Debug(p.logger).Log("msg", "poll done", "mailbox", p.cfg.Mailbox, "messages", len(msgs), "last_uid", last)
	return batch
}

func (p *Poller) setRunning() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.State = Running
	return p.status.LastUID
}

func (p *Poller) finish(lastUID uint32, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status.LastUID = lastUID
	p.status.Error = err
	if err != nil {
		p.status.State = Failed
		return
	}
	p.status.State = Idle
	p.status.LastSync = time.Now()
}
