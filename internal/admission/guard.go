// Package admission guards the two points where marmot must protect itself
// from its own popularity: accepting a new /api/listen connection, and
// letting a whistler publish. Both are resource-protection concerns, not
// publish/subscribe semantics.
package admission

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Guard rejects new SSE connections once the process is already past its
// configured CPU ceiling or its connection semaphore is exhausted. CPU is
// sampled on a ticker rather than per-request, the same static-limits plus
// background-sampled-safety-valve split the teacher's resource guard uses.
type Guard struct {
	sem          chan struct{}
	cpuThreshold float64
	monitor      *cpuMonitor
	logger       zerolog.Logger

	currentCPU atomic.Value // float64
}

// NewGuard creates a Guard admitting at most maxConnections concurrent
// listeners, rejecting new ones once sampled CPU usage exceeds cpuThreshold
// percent of the process's allocation.
func NewGuard(maxConnections int, cpuThreshold float64, logger zerolog.Logger) *Guard {
	g := &Guard{
		sem:          make(chan struct{}, maxConnections),
		cpuThreshold: cpuThreshold,
		monitor:      newCPUMonitor(logger),
		logger:       logger,
	}
	g.currentCPU.Store(0.0)
	return g
}

// StartSampling begins periodic CPU sampling until ctx is cancelled.
func (g *Guard) StartSampling(ctx context.Context, interval time.Duration) {
	if pct, _, err := g.monitor.percent(); err == nil {
		g.currentCPU.Store(pct)
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				pct, throttle, err := g.monitor.percent()
				if err != nil {
					g.logger.Warn().Err(err).Msg("admission: cpu sample failed")
					continue
				}
				g.currentCPU.Store(pct)
				if throttle.NrThrottled > 0 {
					g.logger.Debug().
						Uint64("nr_throttled", throttle.NrThrottled).
						Float64("throttled_sec", throttle.ThrottledSec).
						Msg("admission: cpu throttling observed")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// TryAcquire attempts to admit one more listener connection. ok is false
// when CPU is over threshold or the connection semaphore is full; callers
// should respond 503 in that case. When ok is true, release must be called
// exactly once when the connection ends.
func (g *Guard) TryAcquire() (release func(), reason string, ok bool) {
	cpuPercent := g.currentCPU.Load().(float64)
	if cpuPercent > g.cpuThreshold {
		g.logger.Warn().Float64("cpu_percent", cpuPercent).Float64("threshold", g.cpuThreshold).
			Msg("admission: rejecting listener, CPU over threshold")
		return nil, fmt.Sprintf("cpu %.1f%% over threshold %.1f%%", cpuPercent, g.cpuThreshold), false
	}

	select {
	case g.sem <- struct{}{}:
		return func() { <-g.sem }, "", true
	default:
		g.logger.Warn().Int("capacity", cap(g.sem)).Msg("admission: rejecting listener, connection capacity exhausted")
		return nil, fmt.Sprintf("at max connections (%d)", cap(g.sem)), false
	}
}

// InUse returns the number of currently admitted connections, for /metrics.
func (g *Guard) InUse() int { return len(g.sem) }

// Capacity returns the configured maximum concurrent connections.
func (g *Guard) Capacity() int { return cap(g.sem) }

// CPUPercent returns the most recently sampled CPU usage percentage.
func (g *Guard) CPUPercent() float64 { return g.currentCPU.Load().(float64) }

// CPUAllocation returns the number of CPUs this process is allocated,
// for /metrics and startup logging.
func (g *Guard) CPUAllocation() float64 { return g.monitor.allocation() }
