package monitor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/mikrolink"
	"github.com/danmuck/mikrolink/internal/observability"
	"github.com/danmuck/mikrolink/internal/protocol"
	"github.com/danmuck/mikrolink/internal/protocol/reply"
	"github.com/rs/zerolog"
)

var ErrNoCommands = errors.New("monitor: no commands to poll")

// Source runs commands. *mikrolink.Client satisfies it.
type Source interface {
	ExecParams(command string, params ...protocol.Param) (reply.Reply, error)
	Connected() bool
}

// ConnectFunc reopens the session after it was dropped.
type ConnectFunc func(ctx context.Context) error

// Snapshot is the last reply seen for one command.
type Snapshot struct {
	Command string      `json:"command"`
	Rows    []reply.Row `json:"rows,omitempty"`
	Error   string      `json:"error,omitempty"`
	At      time.Time   `json:"at"`
}

type Poller struct {
	src      Source
	connect  ConnectFunc
	commands []string
	every    time.Duration
	metrics  *observability.Metrics
	log      zerolog.Logger

	mu       sync.RWMutex
	snaps    map[string]Snapshot
	lastPoll time.Time
	lastErr  error
}

type PollerConfig struct {
	Commands []string
	Every    time.Duration
	Connect  ConnectFunc
	Metrics  *observability.Metrics
	Log      zerolog.Logger
}

func NewPoller(src Source, cfg PollerConfig) (*Poller, error) {
	if len(cfg.Commands) == 0 {
		return nil, ErrNoCommands
	}
	if cfg.Every <= 0 {
		cfg.Every = 15 * time.Second
	}
	return &Poller{
		src:      src,
		connect:  cfg.Connect,
		commands: append([]string(nil), cfg.Commands...),
		every:    cfg.Every,
		metrics:  cfg.Metrics,
		log:      cfg.Log,
		snaps:    make(map[string]Snapshot, len(cfg.Commands)),
	}, nil
}

// Run polls immediately and then on every tick until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.every)
	defer ticker.Stop()
	for {
		if err := p.PollOnce(ctx); err != nil {
			p.log.Warn().Msgf("monitor.Poller.Run poll err=%v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollOnce runs every command once. It reconnects first when the session
// is down and a ConnectFunc was given.
func (p *Poller) PollOnce(ctx context.Context) error {
	err := p.poll(ctx)
	p.metrics.RecordPollResult(err)
	p.mu.Lock()
	p.lastPoll = time.Now()
	p.lastErr = err
	p.mu.Unlock()
	return err
}

func (p *Poller) poll(ctx context.Context) error {
	if !p.src.Connected() {
		if p.connect == nil {
			return mikrolink.ErrNotConnected
		}
		if err := p.connect(ctx); err != nil {
			return err
		}
	}
	var errs []error
	for _, command := range p.commands {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := p.src.ExecParams(command)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", command, err))
			if errors.Is(err, mikrolink.ErrProtocol) || errors.Is(err, mikrolink.ErrNotConnected) {
				break
			}
			continue
		}
		p.store(command, res)
		if cmdErr := res.Err(); cmdErr != nil {
			errs = append(errs, fmt.Errorf("%s: %w", command, cmdErr))
		}
	}
	return errors.Join(errs...)
}

func (p *Poller) store(command string, res reply.Reply) {
	snap := Snapshot{Command: command, Rows: res.Rows, At: time.Now()}
	if err := res.Err(); err != nil {
		snap.Error = err.Error()
	} else {
		p.metrics.RecordPoll(command, len(res.Rows), numericValues(res.Rows))
	}
	p.mu.Lock()
	p.snaps[command] = snap
	p.mu.Unlock()
	p.log.Debug().Msgf("monitor.Poller.store command=%q rows=%d", command, len(res.Rows))
}

// Snapshots returns the last reply per command in poll order.
func (p *Poller) Snapshots() []Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Snapshot, 0, len(p.snaps))
	for _, command := range p.commands {
		if snap, ok := p.snaps[command]; ok {
			out = append(out, snap)
		}
	}
	return out
}

// Ready reports whether the last poll succeeded.
func (p *Poller) Ready() (bool, time.Time, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.lastPoll.IsZero() && p.lastErr == nil, p.lastPoll, p.lastErr
}

// numericValues picks the attributes that parse as numbers, keyed by a
// row label: "name" when present, else ".id", else the row index.
func numericValues(rows []reply.Row) map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(rows))
	for i, row := range rows {
		label := rowLabel(row, i)
		for k, v := range row {
			if k == ".id" || k == "name" {
				continue
			}
			f, ok := parseNumber(v)
			if !ok {
				continue
			}
			if out[label] == nil {
				out[label] = map[string]float64{}
			}
			out[label][k] = f
		}
	}
	return out
}

func rowLabel(row reply.Row, i int) string {
	if name := row["name"]; name != "" {
		return name
	}
	if id := row[".id"]; id != "" {
		return id
	}
	return strconv.Itoa(i)
}

// parseNumber accepts plain numbers and the router's "true"/"false".
func parseNumber(v string) (float64, bool) {
	switch strings.ToLower(v) {
	case "true", "yes":
		return 1, true
	case "false", "no":
		return 0, true
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
