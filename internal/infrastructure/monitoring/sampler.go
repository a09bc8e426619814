package monitoring

import (
	"runtime"
	"time"

	"github.com/invoke-ai/launcher/internal/bridge"
)

// Snapshot is a point-in-time view of daemon runtime health, published on
// the bus for UI consumption.
type Snapshot struct {
	Goroutines    int       `json:"goroutines"`
	HeapAllocMB   float64   `json:"heapAllocMB"`
	UptimeSeconds float64   `json:"uptimeSeconds"`
	Timestamp     time.Time `json:"timestamp"`
}

// Sampler periodically publishes runtime snapshots on the metrics topic.
type Sampler struct {
	bus      *bridge.Bus
	interval time.Duration
	start    time.Time
	done     chan struct{}
}

// NewSampler creates a sampler publishing to bus every interval.
func NewSampler(bus *bridge.Bus, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Sampler{
		bus:      bus,
		interval: interval,
		start:    time.Now(),
		done:     make(chan struct{}),
	}
}

// Run blocks, publishing snapshots until Stop is called.
func (s *Sampler) Run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.bus.Publish(bridge.TopicMetrics, s.sample())
		case <-s.done:
			return
		}
	}
}

// Stop terminates a running sampler. Call at most once.
func (s *Sampler) Stop() {
	close(s.done)
}

func (s *Sampler) sample() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return Snapshot{
		Goroutines:    runtime.NumGoroutine(),
		HeapAllocMB:   float64(mem.HeapAlloc) / (1 << 20),
		UptimeSeconds: time.Since(s.start).Seconds(),
		Timestamp:     time.Now(),
	}
}
