package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/smazurov/streamgrab/internal/events"
	"github.com/smazurov/streamgrab/internal/logging"
	"github.com/smazurov/streamgrab/internal/metrics"
)

// DefaultProbeTimeout bounds a single HEAD probe.
const DefaultProbeTimeout = 200 * time.Millisecond

var (
	// ErrNoLocalAddress means the local IPv4 address is unknown, so there is
	// no subnet to scan.
	ErrNoLocalAddress = errors.New("local IPv4 address could not be determined")
	// ErrNotFound is the negative scan result. It is not a failure.
	ErrNotFound = errors.New("no device found")
	// ErrInvalidRange means the host range is outside 0-255 or reversed.
	ErrInvalidRange = errors.New("invalid host range")
)

// Result is the outcome of one scan.
type Result struct {
	Found   bool   `json:"found"`
	Address string `json:"address,omitempty"`
}

// Err returns ErrNotFound for a negative result and nil otherwise.
func (r Result) Err() error {
	if !r.Found {
		return ErrNotFound
	}
	return nil
}

// Scanner probes a host range sequentially and stops at the first hit.
type Scanner struct {
	prober  Prober
	timeout time.Duration
	limiter *rate.Limiter
	bus     *events.Bus
	logger  logging.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithProber replaces the default HTTP prober.
func WithProber(p Prober) Option {
	return func(s *Scanner) { s.prober = p }
}

// WithTimeout sets the per-probe timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Scanner) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithRateLimit paces probes to at most pps per second. 0 disables pacing.
func WithRateLimit(pps float64) Option {
	return func(s *Scanner) {
		if pps > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(pps), 1)
		}
	}
}

// WithEventBus publishes a DeviceDiscoveredEvent on every hit.
func WithEventBus(bus *events.Bus) Option {
	return func(s *Scanner) { s.bus = bus }
}

// WithLogger overrides the default "discovery" module logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Scanner) { s.logger = logger }
}

// NewScanner creates a scanner. Without options it probes with HEAD,
// accepts 2xx only and waits DefaultProbeTimeout per host.
func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{
		prober:  NewHTTPProber(PolicySuccess),
		timeout: DefaultProbeTimeout,
		logger:  logging.GetLogger("discovery"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan probes {prefix}.lo through {prefix}.hi in ascending order, where
// prefix is the /24 of localIPv4, and returns the first responder.
// A scan that exhausts the range returns a Result with Found == false and a
// nil error.
func (s *Scanner) Scan(ctx context.Context, localIPv4 string, lo, hi int) (Result, error) {
	prefix, err := SubnetPrefix(localIPv4)
	if err != nil {
		metrics.ObserveScan("error")
		return Result{}, err
	}
	if lo < 0 || hi > 255 || lo > hi {
		metrics.ObserveScan("error")
		return Result{}, fmt.Errorf("%w: %d-%d", ErrInvalidRange, lo, hi)
	}

	s.logger.Info("Scanning subnet", "prefix", prefix, "from", lo, "to", hi, "timeout", s.timeout)
	start := time.Now()

	for h := lo; h <= hi; h++ {
		if err := ctx.Err(); err != nil {
			metrics.ObserveScan("error")
			return Result{}, err
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				metrics.ObserveScan("error")
				return Result{}, err
			}
		}

		address := fmt.Sprintf("%s.%d", prefix, h)
		if s.probe(ctx, address) {
			s.logger.Info("Device found", "address", address, "elapsed", time.Since(start))
			metrics.ObserveScan("found")
			s.bus.Publish(events.DeviceDiscoveredEvent{
				Address:   address,
				Timestamp: time.Now().Format(time.RFC3339),
			})
			return Result{Found: true, Address: address}, nil
		}
	}

	s.logger.Info("No device found", "prefix", prefix, "elapsed", time.Since(start))
	metrics.ObserveScan("not_found")
	return Result{}, nil
}

// ScanLocal scans the subnet of the host's own IPv4 address.
func (s *Scanner) ScanLocal(ctx context.Context, lo, hi int) (Result, error) {
	ip, err := LocalIPv4()
	if err != nil {
		metrics.ObserveScan("error")
		return Result{}, err
	}
	return s.Scan(ctx, ip, lo, hi)
}

// probe runs one bounded probe. A late answer counts as a miss.
func (s *Scanner) probe(ctx context.Context, address string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	hit := s.prober.Probe(probeCtx, address) && probeCtx.Err() == nil
	metrics.ObserveProbe(hit)
	s.logger.Debug("Probed", "address", address, "hit", hit)
	return hit
}
