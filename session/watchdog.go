package session

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"recorder-agent/config"
	"recorder-agent/constant"
)

// Watchdog is the safety backstop for runaway sessions: it polls elapsed
// time on a fixed interval and forces a stop once the hard cap is exceeded,
// regardless of who started the session or whether that caller still exists.
type Watchdog struct {
	machine  *Machine
	interval time.Duration
	hardCap  time.Duration
}

func NewWatchdog(cfg config.Session, machine *Machine) *Watchdog {
	interval := cfg.WatchdogInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	hardCap := cfg.HardCap
	if hardCap <= 0 {
		hardCap = 3 * time.Hour
	}
	return &Watchdog{
		machine:  machine,
		interval: interval,
		hardCap:  hardCap,
	}
}

func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.CheckOnce(ctx)
		}
	}
}

// CheckOnce performs a single hard-cap check. The forced stop goes through
// the same lock as every other Stop, so a race against a manual stop
// resolves to one winner and the loser observes ErrNoActiveSession.
func (w *Watchdog) CheckOnce(ctx context.Context) {
	elapsed, active := w.machine.ActiveElapsed()
	if !active || elapsed <= w.hardCap {
		return
	}

	zerolog.Ctx(ctx).Warn().
		Dur("elapsed", elapsed).
		Dur("hard_cap", w.hardCap).
		Msg("session exceeded hard duration cap, forcing stop")

	if _, err := w.machine.Stop(ctx, constant.StopReasonPrematureAutoStop); err != nil && !errors.Is(err, ErrNoActiveSession) {
		zerolog.Ctx(ctx).Error().Err(err).Msg("watchdog forced stop failed")
	}
}
