package app

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/pvmon/pvmon/internal/config"
	"github.com/pvmon/pvmon/internal/provider"
	"github.com/pvmon/pvmon/internal/pv"
	"github.com/pvmon/pvmon/internal/pvdata"
)

const (
	defaultSimulatorPeriod = time.Second
	simulatedWaveformLen   = 8
)

var simulatedChoices = []string{"Off", "On", "Fault"}

// Simulator feeds a loopback provider with synthetic values so the client
// can be exercised without a PV server.
type Simulator struct {
	lb     *provider.Loopback
	period time.Duration
	logger *slog.Logger

	mu   sync.Mutex
	pvs  map[string]pv.Kind
	step int
}

func NewSimulator(lb *provider.Loopback, period time.Duration, logger *slog.Logger) *Simulator {
	if period <= 0 {
		period = defaultSimulatorPeriod
	}
	if logger == nil {
		logger = slog.Default().With("component", "app.simulator")
	}
	return &Simulator{lb: lb, period: period, logger: logger, pvs: make(map[string]pv.Kind)}
}

// Add starts simulating name as kind and publishes its first value.
func (s *Simulator) Add(name string, kind pv.Kind) {
	s.mu.Lock()
	if _, ok := s.pvs[name]; ok {
		s.mu.Unlock()
		return
	}
	s.pvs[name] = kind
	step := s.step
	s.mu.Unlock()

	s.lb.Publish(name, simulatedValue(kind, step))
}

func (s *Simulator) AddConfigured(pvs []config.PVConfig) error {
	for _, p := range pvs {
		kind, err := p.Kind()
		if err != nil {
			return fmt.Errorf("simulate %s: %w", p.Name, err)
		}
		s.Add(p.Name, kind)
	}
	return nil
}

func (s *Simulator) Run(ctx context.Context) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Step()
		}
	}
}

// Step advances every simulated PV by one sample.
func (s *Simulator) Step() {
	s.mu.Lock()
	s.step++
	step := s.step
	pvs := make(map[string]pv.Kind, len(s.pvs))
	for name, kind := range s.pvs {
		pvs[name] = kind
	}
	s.mu.Unlock()

	for name, kind := range pvs {
		s.lb.Publish(name, simulatedValue(kind, step))
	}
	s.logger.Debug("simulated step", "step", step, "pvs", len(pvs))
}

func simulatedValue(kind pv.Kind, step int) pvdata.Map {
	phase := float64(step) / 10 * 2 * math.Pi
	switch kind {
	case pv.KindDouble:
		return pvdata.Scalar(math.Round(math.Sin(phase)*1e4) / 1e4).WithDisplayFormat("%.3F")
	case pv.KindInt:
		return pvdata.Scalar(step)
	case pv.KindEnum:
		return pvdata.EnumOf(step%len(simulatedChoices), simulatedChoices...)
	case pv.KindDoubleSeq:
		wave := make([]float64, simulatedWaveformLen)
		for i := range wave {
			wave[i] = math.Round(math.Sin(phase+float64(i)/simulatedWaveformLen*2*math.Pi)*1e3) / 1e3
		}
		return pvdata.Scalar(wave)
	case pv.KindIntSeq:
		counts := make([]int, simulatedWaveformLen)
		for i := range counts {
			counts[i] = step + i
		}
		return pvdata.Scalar(counts)
	case pv.KindStringSeq:
		return pvdata.Scalar([]string{simulatedChoices[step%len(simulatedChoices)], fmt.Sprintf("step %d", step)})
	default:
		return pvdata.Scalar(fmt.Sprintf("step %d", step))
	}
}
