// Package poller periodically discovers sensors, queries each one and hands
// the readings to a publish.Sink.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"github.com/srg/miflora/flora"
	"github.com/srg/miflora/internal/publish"
	"github.com/srg/miflora/pkg/config"
	"github.com/srg/miflora/scanner"
)

// Discoverer finds devices to poll. *scanner.Engine implements it.
type Discoverer interface {
	Discover(ctx context.Context, opts *scanner.ScanOptions, progress scanner.ProgressCallback) ([]*flora.Device, error)
}

// Poller runs query rounds on a schedule. Each device gets a circuit breaker
// so a sensor that keeps failing, typically one out of range, is skipped
// until the breaker timeout passes instead of costing a full set of
// connect timeouts every round.
type Poller struct {
	engine   Discoverer
	sink     publish.Sink
	scan     scanner.ScanOptions
	cfg      config.PollConfig
	logger   *logrus.Logger
	schedule cron.Schedule

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*flora.QueryResult]
	cron     *cron.Cron
	cancel   context.CancelFunc
}

// New creates a poller. sink may be nil, in which case readings are only
// returned from PollOnce and logged.
func New(engine Discoverer, sink publish.Sink, cfg *config.Config, logger *logrus.Logger) (*Poller, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	schedule, err := ParseSchedule(cfg.Poll.Schedule)
	if err != nil {
		return nil, err
	}

	// Every round polls only the sensors advertising during that round.
	scan := cfg.Scan
	scan.ClearDevices = true

	return &Poller{
		engine:   engine,
		sink:     sink,
		scan:     scan,
		cfg:      cfg.Poll,
		logger:   logger,
		schedule: schedule,
		breakers: make(map[string]*gobreaker.CircuitBreaker[*flora.QueryResult]),
	}, nil
}

// ParseSchedule accepts a cron expression first and falls back to a Go
// duration for a fixed interval.
func ParseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return constantDelay(dur), nil
}

// constantDelay fires at a fixed interval. Unlike cron.Every it keeps
// sub-second precision.
type constantDelay time.Duration

func (d constantDelay) Next(t time.Time) time.Time {
	return t.Add(time.Duration(d))
}

func (p *Poller) breaker(address string) *gobreaker.CircuitBreaker[*flora.QueryResult] {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cb, ok := p.breakers[address]; ok {
		return cb
	}

	failures := p.cfg.BreakerFailures
	cb := gobreaker.NewCircuitBreaker[*flora.QueryResult](gobreaker.Settings{
		Name:        "device:" + address,
		MaxRequests: 1,
		Timeout:     p.cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.WithFields(logrus.Fields{
				"address": address,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Device circuit breaker state change")
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	p.breakers[address] = cb
	return cb
}

// BreakerState returns the breaker state of address, or StateClosed for a
// device that was never polled.
func (p *Poller) BreakerState(address string) gobreaker.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cb, ok := p.breakers[address]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}

// PollOnce discovers devices and queries each one in turn, disconnecting
// after every device. Per-device failures do not stop the round; they are
// joined into the returned error next to the readings that succeeded.
func (p *Poller) PollOnce(ctx context.Context) ([]publish.Reading, error) {
	devices, err := p.engine.Discover(ctx, &p.scan, nil)
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}

	p.logger.WithField("device_count", len(devices)).Info("Polling devices")

	var queryOpts []flora.QueryOption
	if p.cfg.QuerySerial {
		queryOpts = append(queryOpts, flora.WithSerial())
	}

	var (
		readings []publish.Reading
		errs     []error
	)
	for _, dev := range devices {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		res, err := p.breaker(dev.Address()).Execute(func() (*flora.QueryResult, error) {
			defer func() {
				if err := dev.Disconnect(context.WithoutCancel(ctx)); err != nil {
					p.logger.WithError(err).WithField("address", dev.Address()).Debug("Disconnect after query failed")
				}
			}()
			return dev.Query(ctx, queryOpts...)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				p.logger.WithField("address", dev.Address()).Debug("Skipping device, circuit open")
			} else {
				p.logger.WithError(err).WithField("address", dev.Address()).Warn("Device query failed")
			}
			errs = append(errs, fmt.Errorf("%s: %w", dev.Address(), err))
			continue
		}

		reading := publish.NewReading(dev, res, time.Now())
		readings = append(readings, reading)

		if p.sink != nil {
			if err := p.sink.Publish(ctx, reading); err != nil {
				p.logger.WithError(err).WithField("address", dev.Address()).Warn("Publishing reading failed")
				errs = append(errs, fmt.Errorf("%s: %w", dev.Address(), err))
			}
		}
	}

	return readings, errors.Join(errs...)
}

// Start runs PollOnce on the configured schedule until Stop is called or ctx
// is done. A round still running when the next one is due makes the next
// one skip.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cron != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(p.logger))))
	c.Schedule(p.schedule, cron.FuncJob(func() {
		if runCtx.Err() != nil {
			return
		}

		start := time.Now()
		readings, err := p.PollOnce(runCtx)
		entry := p.logger.WithFields(logrus.Fields{
			"readings": len(readings),
			"duration": time.Since(start).Round(time.Millisecond),
		})
		if err != nil {
			entry.WithError(err).Warn("Poll round finished with errors")
			return
		}
		entry.Info("Poll round completed")
	}))
	c.Start()
	p.cron = c

	p.logger.WithField("schedule", p.cfg.Schedule).Info("Poller started")
	return nil
}

// Stop cancels the running round, if any, and waits for it to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	c, cancel := p.cron, p.cancel
	p.cron, p.cancel = nil, nil
	p.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()

	p.logger.Info("Poller stopped")
}
