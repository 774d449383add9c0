package workers

import (
	"chat-relay/domain/chat"
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/process"
)

// Prober checks that the message store still answers.
type Prober interface {
	Ping(ctx context.Context) error
}

// HealthReporter publishes the serving status of the relay.
type HealthReporter interface {
	SetServing(serving bool)
}

// RelayCounters exposes the live counters of the relay runtime.
type RelayCounters interface {
	Rooms() map[chat.RoomName]int
	ConnectionCount() int
	Delivered() uint64
	Failures() uint64
}

// Snapshot is one heartbeat measure.
type Snapshot struct {
	At           time.Time             `json:"at"`
	Pid          int                   `json:"pid"`
	RamBytes     uint64                `json:"ram_bytes"`
	CpuPercent   float64               `json:"cpu_percent"`
	Rooms        map[chat.RoomName]int `json:"rooms"`
	Connections  int                   `json:"connections"`
	Delivered    uint64                `json:"delivered"`
	Failures     uint64                `json:"failures"`
	StoreHealthy bool                  `json:"store_healthy"`
}

// HeartbeatWorker measures the relay every metricInterval, logs it,
// and flips the health status when the store stops answering.
type HeartbeatWorker struct {
	log            *slog.Logger
	counters       RelayCounters
	prober         Prober
	health         HealthReporter
	metricInterval time.Duration
	latest         atomic.Pointer[Snapshot]
}

func NewHeartbeatWorker(
	log *slog.Logger,
	counters RelayCounters,
	prober Prober,
	health HealthReporter,
	metricInterval time.Duration,
) *HeartbeatWorker {
	return &HeartbeatWorker{
		log:            log,
		counters:       counters,
		prober:         prober,
		health:         health,
		metricInterval: metricInterval,
	}
}

func (w *HeartbeatWorker) Run(ctx context.Context) error {
	w.log.Info("Starting heartbeat worker", "interval", w.metricInterval)
	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	w.beat(ctx, p)
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping heartbeat")
			return nil
		case <-ticker.C:
			w.beat(ctx, p)
		}
	}
}

// Latest returns the last measure, nil before the first beat.
func (w *HeartbeatWorker) Latest() *Snapshot {
	return w.latest.Load()
}

func (w *HeartbeatWorker) beat(ctx context.Context, p *process.Process) {
	snapshot := Snapshot{
		At:          time.Now().UTC(),
		Pid:         os.Getpid(),
		Rooms:       w.counters.Rooms(),
		Connections: w.counters.ConnectionCount(),
		Delivered:   w.counters.Delivered(),
		Failures:    w.counters.Failures(),
	}

	rss, cpu, err := getSelfStats(p)
	if err != nil {
		w.log.Debug("Failed to collect self stats", "err", err)
	}
	snapshot.RamBytes, snapshot.CpuPercent = rss, cpu

	probeCtx, cancel := context.WithTimeout(ctx, w.metricInterval)
	defer cancel()
	if err := w.prober.Ping(probeCtx); err != nil {
		w.log.Error("Message store unreachable", "err", err)
	} else {
		snapshot.StoreHealthy = true
	}
	w.health.SetServing(snapshot.StoreHealthy)
	w.latest.Store(&snapshot)

	w.log.Debug("Heartbeat",
		"rooms", len(snapshot.Rooms),
		"connections", snapshot.Connections,
		"delivered", snapshot.Delivered,
		"failures", snapshot.Failures,
		"ram_bytes", snapshot.RamBytes,
		"cpu_percent", snapshot.CpuPercent)
}

// getSelfStats retrieves memory and CPU usage of the given process.
func getSelfStats(p *process.Process) (uint64, float64, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}

	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return memInfo.RSS, cpuPercent, nil
}
