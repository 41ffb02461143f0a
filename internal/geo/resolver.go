package geo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"example.com/sitepulse/internal/enrich"
	"example.com/sitepulse/internal/telemetry"
)

// SourcePlatform is the step source that reads edge-injected headers.
const SourcePlatform = "platform"

// Candidate selects which resolved IP a step looks up.
type Candidate string

const (
	CandidatePrimary   Candidate = "primary"
	CandidateSecondary Candidate = "secondary"
)

// Step is one entry of the resolution chain.
type Step struct {
	Source    string    `yaml:"source"`
	Candidate Candidate `yaml:"candidate"`
}

// Step outcomes, also used as metric labels.
const (
	outcomeAccepted = "accepted"
	outcomeSentinel = "sentinel"
	outcomeEmpty    = "empty"
	outcomeError    = "error"
	outcomeTimeout  = "timeout"
)

// Resolver walks the chain and returns the first plausible result.
type Resolver struct {
	steps     []Step
	providers map[string]Provider
	sentinels []Location
	timeout   time.Duration
	log       *slog.Logger
	metrics   *telemetry.Metrics
}

// NewResolver validates that every step names the platform source or a
// registered provider.
func NewResolver(cfg ChainConfig, providers []Provider, log *slog.Logger, m *telemetry.Metrics) (*Resolver, error) {
	if log == nil {
		log = slog.Default()
	}
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	for i, s := range cfg.Steps {
		if s.Source == SourcePlatform {
			continue
		}
		if _, ok := byName[s.Source]; !ok {
			return nil, fmt.Errorf("geo chain step %d: unknown source %q", i, s.Source)
		}
		switch s.Candidate {
		case CandidatePrimary, CandidateSecondary:
		default:
			return nil, fmt.Errorf("geo chain step %d: invalid candidate %q", i, s.Candidate)
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resolver{
		steps:     cfg.Steps,
		providers: byName,
		sentinels: cfg.Sentinels,
		timeout:   timeout,
		log:       log,
		metrics:   m,
	}, nil
}

// Resolve returns the first accepted result, or false when every step was
// skipped or rejected. It never fails the caller.
func (r *Resolver) Resolve(ctx context.Context, ips enrich.IPResolution, hints PlatformHints) (*Result, bool) {
	tried := make(map[string]struct{})
	for _, step := range r.steps {
		if step.Source == SourcePlatform {
			res := hints.result()
			if res.City == "" {
				continue
			}
			if outcome := r.judge(res); outcome != outcomeAccepted {
				r.record(step.Source, "", outcome)
				continue
			}
			r.record(step.Source, "", outcomeAccepted)
			return &res, true
		}

		ip := ips.Primary
		if step.Candidate == CandidateSecondary {
			ip = ips.Secondary
		}
		if ip == "" || ip == enrich.UnknownIP {
			continue
		}
		key := step.Source + "|" + ip
		if _, seen := tried[key]; seen {
			continue
		}
		tried[key] = struct{}{}

		res, outcome := r.lookup(ctx, r.providers[step.Source], ip)
		r.record(step.Source, ip, outcome)
		if outcome == outcomeAccepted {
			return &res, true
		}
	}
	return nil, false
}

func (r *Resolver) lookup(ctx context.Context, p Provider, ip string) (Result, string) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := p.Lookup(callCtx, ip)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return Result{}, outcomeTimeout
		}
		r.log.Debug("geo lookup error", "source", p.Name(), "ip", ip, "error", err)
		return Result{}, outcomeError
	}
	res.Source = p.Name()
	return res, r.judge(res)
}

// judge applies the plausibility rules shared by every source.
func (r *Resolver) judge(res Result) string {
	if res.Empty() {
		return outcomeEmpty
	}
	for _, s := range r.sentinels {
		if s.matches(res) {
			return outcomeSentinel
		}
	}
	return outcomeAccepted
}

func (r *Resolver) record(source, ip, outcome string) {
	r.metrics.GeoLookup(source, outcome)
	r.log.Debug("geo step", "source", source, "ip", ip, "outcome", outcome)
}
