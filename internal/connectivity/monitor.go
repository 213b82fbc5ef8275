// Package connectivity tracks whether the response provider is reachable and
// turns the offline→online transition into a single "restored" event.
//
// The delivery orchestrator consults Online() before attempting a live send;
// the offline queue is drained once per restored event. The monitor never
// fires restored callbacks while already online, so rapid flapping produces
// at most one drain trigger per actual transition.
package connectivity

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// providerUp reports the monitor's current view of provider reachability.
var providerUp = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "delivery_provider_reachable",
	Help: "1 when the response provider endpoint is reachable, 0 otherwise.",
})

func init() {
	prometheus.MustRegister(providerUp)
}

// RestoredFunc is invoked once per offline→online transition.
type RestoredFunc func(ctx context.Context)

// Monitor holds the current online state and fans a restored event out to
// subscribers. Safe for concurrent use.
//
// State changes arrive either from a Prober or from SetOnline (manual
// override for ops endpoints and tests).
type Monitor struct {
	mu       sync.Mutex
	online   bool
	restored []RestoredFunc

	Log zerolog.Logger
}

// NewMonitor returns a monitor that starts in the given state.
func NewMonitor(online bool) *Monitor {
	m := &Monitor{online: online}
	if online {
		providerUp.Set(1)
	} else {
		providerUp.Set(0)
	}
	return m
}

// Online reports the current connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnRestored registers fn to run on every offline→online transition.
// Registration order is preserved when firing.
func (m *Monitor) OnRestored(fn RestoredFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restored = append(m.restored, fn)
}

// SetOnline updates the state. A transition from offline to online fires
// every registered restored callback exactly once, synchronously, in
// registration order. Setting the current state again is a no-op.
func (m *Monitor) SetOnline(ctx context.Context, online bool) {
	m.mu.Lock()
	was := m.online
	m.online = online
	var fire []RestoredFunc
	if online && !was {
		fire = append(fire, m.restored...)
	}
	m.mu.Unlock()

	if online {
		providerUp.Set(1)
	} else {
		providerUp.Set(0)
	}
	if online != was {
		m.Log.Info().Bool("online", online).Msg("connectivity changed")
	}
	for _, fn := range fire {
		fn(ctx)
	}
}

// DialFunc performs one reachability check against a host:port target.
type DialFunc func(ctx context.Context, target string) error

// TCPDial is the default DialFunc: a plain TCP dial with a short deadline.
func TCPDial(ctx context.Context, target string) error {
	d := net.Dialer{Timeout: 3 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Prober periodically checks a target and feeds the result into a Monitor.
type Prober struct {
	Monitor  *Monitor
	Target   string
	Interval time.Duration
	Dial     DialFunc
}

// Run probes until ctx is done. A nil Dial falls back to TCPDial; an
// Interval <= 0 falls back to 15s. The first probe runs immediately so the
// monitor settles before the first send arrives.
func (p *Prober) Run(ctx context.Context) {
	dial := p.Dial
	if dial == nil {
		dial = TCPDial
	}
	interval := p.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	probe := func() {
		err := dial(ctx, p.Target)
		p.Monitor.SetOnline(ctx, err == nil)
	}

	probe()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			probe()
		}
	}
}
