// Package thermal samples host CPU load for the local model's cool-down guard.
package thermal

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"

	"github.com/kirillkom/proposal-compliance/internal/core/ports"
)

type sampleFunc func(ctx context.Context, interval time.Duration, percpu bool) ([]float64, error)

type Monitor struct {
	interval time.Duration
	sample   sampleFunc
	logger   *slog.Logger
}

// NewMonitor returns a load monitor. A zero interval compares against the
// previous call instead of blocking for a sampling window.
func NewMonitor(interval time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		interval: interval,
		sample:   cpu.PercentWithContext,
		logger:   logger,
	}
}

// CPUPercent reports total CPU usage. ok is false when the metric cannot be
// read on this host.
func (m *Monitor) CPUPercent(ctx context.Context) (float64, bool) {
	values, err := m.sample(ctx, m.interval, false)
	if err != nil || len(values) == 0 {
		m.logger.Debug("cpu_metric_unavailable", "error", err)
		return 0, false
	}
	return values[0], true
}

// Guard blocks for coolDown when CPU usage is above threshold. It returns
// early with ctx's error if ctx is done during the pause.
type Guard struct {
	monitor   ports.LoadMonitor
	threshold float64
	coolDown  time.Duration
	logger    *slog.Logger
}

func NewGuard(monitor ports.LoadMonitor, threshold float64, coolDown time.Duration, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{monitor: monitor, threshold: threshold, coolDown: coolDown, logger: logger}
}

func (g *Guard) Wait(ctx context.Context) error {
	if g == nil || g.monitor == nil || g.threshold <= 0 {
		return nil
	}
	usage, ok := g.monitor.CPUPercent(ctx)
	if !ok || usage <= g.threshold {
		return nil
	}

	g.logger.Warn("thermal_cool_down",
		"cpu_percent", usage,
		"threshold", g.threshold,
		"cool_down", g.coolDown.String(),
	)
	timer := time.NewTimer(g.coolDown)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
