// Package sync polls watched folders in the background and tracks their
// message counts.
package sync

import (
	"context"
	"errors"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/nhle/email-mcp/internal/mailbox"
	"github.com/nhle/email-mcp/internal/metrics"
	"github.com/nhle/email-mcp/internal/service"
)

// SyncState represents the current state of a folder poll.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

func (s SyncState) String() string {
	switch s {
	case SyncRunning:
		return "running"
	case SyncError:
		return "error"
	default:
		return "idle"
	}
}

func (s SyncState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// FolderStatus holds the poll state of one watched folder.
type FolderStatus struct {
	Folder   string    `json:"folder"`
	State    SyncState `json:"state"`
	Total    int       `json:"total_messages"`
	Unread   int       `json:"unread_messages"`
	LastSync time.Time `json:"last_sync,omitempty"`
	Error    string    `json:"error,omitempty"`

	// NewMessages is the growth of Total seen by the last poll.
	NewMessages int `json:"new_messages"`

	polled bool
}

// Counter reports folder message counts. service.FolderService
// implements it.
type Counter interface {
	Stats(ctx context.Context, name string) (*service.FolderStats, error)
}

// DefaultInterval is used when Config.Interval is not positive.
const DefaultInterval = 120 * time.Second

// fetchTimeout is the maximum time allowed for one folder poll.
const fetchTimeout = 30 * time.Second

// Config lists the folders to watch.
type Config struct {
	Folders  []string
	Interval time.Duration
}

// Poller polls watched folders on a fixed interval. Folders are polled
// one after another since they share a connection.
type Poller struct {
	counter   Counter
	folders   []string
	interval  time.Duration
	statuses  map[string]*FolderStatus
	triggerCh chan struct{}
	stopCh    chan struct{}
	done      chan struct{}
	mu        gosync.Mutex
	running   bool
	log       *slog.Logger
}

// New creates a Poller. The Counter should own a connection that no
// other component selects folders on.
func New(c Counter, cfg Config, log *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Poller{
		counter:   c,
		interval:  cfg.Interval,
		statuses:  make(map[string]*FolderStatus, len(cfg.Folders)),
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		log:       log.With(slog.String("component", "poller")),
	}
	for _, name := range cfg.Folders {
		if _, dup := p.statuses[name]; dup || name == "" {
			continue
		}
		p.folders = append(p.folders, name)
		p.statuses[name] = &FolderStatus{Folder: name, State: SyncIdle}
	}
	return p
}

// Start launches the polling goroutine. It polls immediately and then
// every interval until Stop is called or ctx is done.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	go p.loop(ctx)
}

// Stop halts polling and waits for an in-flight poll to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	<-p.done
}

// RefreshAll requests an immediate poll. It does not block; a request
// made while one is pending is merged into it.
func (p *Poller) RefreshAll() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

// Statuses returns the status of every watched folder in configured
// order.
func (p *Poller) Statuses() []FolderStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]FolderStatus, 0, len(p.folders))
	for _, name := range p.folders {
		out = append(out, *p.statuses[name])
	}
	return out
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.PollOnce(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		case <-p.triggerCh:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce polls every watched folder once. A fatal session error ends
// the round early; the remaining folders keep their previous status.
func (p *Poller) PollOnce(ctx context.Context) {
	for _, name := range p.folders {
		if err := p.poll(ctx, name); err != nil && mailbox.IsFatal(err) {
			var authErr *mailbox.AuthenticationError
			if errors.As(err, &authErr) {
				p.log.Error("authentication rejected, check the configured credentials", slog.Any("error", err))
			}
			return
		}
	}
}

func (p *Poller) poll(ctx context.Context, name string) error {
	p.setState(name, SyncRunning)

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	stats, err := p.counter.Stats(ctx, name)
	if err != nil {
		p.mu.Lock()
		status := p.statuses[name]
		status.State = SyncError
		status.Error = err.Error()
		p.mu.Unlock()
		p.log.Warn("folder poll failed", slog.String("folder", name), slog.Any("error", err))
		return err
	}

	metrics.FolderMessages.WithLabelValues(name, "total").Set(float64(stats.Total))
	metrics.FolderMessages.WithLabelValues(name, "unread").Set(float64(stats.Unread))

	p.mu.Lock()
	status := p.statuses[name]
	status.NewMessages = 0
	if status.polled && stats.Total > status.Total {
		status.NewMessages = stats.Total - status.Total
	}
	status.Total = stats.Total
	status.Unread = stats.Unread
	status.State = SyncIdle
	status.Error = ""
	status.LastSync = time.Now()
	status.polled = true
	newMessages := status.NewMessages
	p.mu.Unlock()

	if newMessages > 0 {
		p.log.Info("new messages",
			slog.String("folder", name),
			slog.Int("count", newMessages),
			slog.Int("unread", stats.Unread),
		)
	}
	return nil
}

func (p *Poller) setState(name string, state SyncState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if status, ok := p.statuses[name]; ok {
		status.State = state
	}
}
