package offlinequeue

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// ManualSignal is a ConnectivitySignal driven by Set, for hosts that learn
// about connectivity from the platform.
type ManualSignal struct {
	mu     sync.Mutex
	online bool
	subs   map[chan bool]struct{}
}

func NewManualSignal(online bool) *ManualSignal {
	return &ManualSignal{online: online, subs: map[chan bool]struct{}{}}
}

func (s *ManualSignal) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Set records the state and notifies subscribers when it changed. A slow
// subscriber only ever sees the latest state.
func (s *ManualSignal) Set(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.online == online {
		return
	}
	s.online = online
	for ch := range s.subs {
		select {
		case ch <- online:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- online
		}
	}
}

func (s *ManualSignal) Subscribe(ctx context.Context) <-chan bool {
	ch := make(chan bool, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, ch)
		close(ch)
		s.mu.Unlock()
	}()
	return ch
}

// ProbeSignal polls URL (usually the API /healthz) and reports online while
// it answers 2xx.
type ProbeSignal struct {
	*ManualSignal
	URL      string
	Interval time.Duration
	Client   *http.Client
}

func NewProbeSignal(url string, interval time.Duration) *ProbeSignal {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &ProbeSignal{
		ManualSignal: NewManualSignal(false),
		URL:          url,
		Interval:     interval,
		Client:       &http.Client{Timeout: 5 * time.Second},
	}
}

// Run probes immediately and then every Interval until ctx is done.
func (p *ProbeSignal) Run(ctx context.Context) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		p.Set(p.probe(ctx))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *ProbeSignal) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
