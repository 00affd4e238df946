package teamguard

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mkdir700/pi-team/internal/model"
)

// summaryMaxBytes bounds one steering line.
const summaryMaxBytes = 160

// pollDefault is the inbox cadence when none is configured.
const pollDefault = 3 * time.Second

// Poller periodically fetches the discovered agent's inbox and emits
// one compact line per event to the host's steering channel. The full
// event content is never forwarded.
type Poller struct {
	client   *Client
	interval time.Duration
	since    int64
	emit     func(string)
}

// NewPoller builds a poller starting after the given cursor. A zero
// cursor replays the whole inbox once.
func NewPoller(c *Client, interval time.Duration, since int64, emit func(string)) *Poller {
	if interval <= 0 {
		interval = pollDefault
	}
	return &Poller{client: c, interval: interval, since: since, emit: emit}
}

// Run polls until ctx is cancelled. Blocks.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// Since returns the cursor the next poll will use.
func (p *Poller) Since() int64 { return p.since }

// poll fetches once and advances the cursor. Failures leave the cursor
// untouched so the next tick retries the same window.
func (p *Poller) poll(ctx context.Context) {
	events, next, err := p.client.FetchInbox(ctx, p.since)
	if err != nil {
		return
	}
	for _, ev := range events {
		p.emit(Summarize(ev))
	}
	p.since = next
}

// Summarize renders one inbox event as a single newline-free line:
//
//	INBOX: task_completed task-0001 by worker_a
func Summarize(ev model.InboxEvent) string {
	ref := ev.TaskID
	if ref == "" {
		ref = ev.ThreadID
	}
	line := fmt.Sprintf("INBOX: %s %s by %s", ev.Type, ref, ev.Actor)
	line = strings.Join(strings.Fields(line), " ")
	if len(line) <= summaryMaxBytes {
		return line
	}
	cut := summaryMaxBytes
	for cut > 0 && !utf8.RuneStart(line[cut]) {
		cut--
	}
	return line[:cut]
}
