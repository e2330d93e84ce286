// Package admin gates privileged ledger mutations behind an address allowlist,
// a shared token and a failure throttle.
package admin

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/storyline-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/storyline-backend/pkg/errors"
	"github.com/angelmondragon/storyline-backend/pkg/logger"
)

const (
	defaultMaxFailures   = 5
	defaultFailureWindow = 15 * time.Minute
	defaultCooldown      = 15 * time.Minute
)

// Options configure the gate.
type Options struct {
	AllowedIPs    []string
	Token         string
	MaxFailures   int
	FailureWindow time.Duration
	Cooldown      time.Duration
}

// OptionsFromConfig maps the admin config section onto gate options.
func OptionsFromConfig(cfg config.AdminConfig) Options {
	return Options{
		AllowedIPs:    cfg.AllowedIPs,
		Token:         cfg.Token,
		MaxFailures:   cfg.MaxFailures,
		FailureWindow: cfg.FailureWindow,
		Cooldown:      cfg.Cooldown,
	}
}

// Gate authorizes administrative callers.
type Gate struct {
	allowed  map[string]struct{}
	token    string
	max      int64
	window   time.Duration
	cooldown time.Duration
	store    FailureStore
	logg     *logger.Logger
}

// NewGate builds a gate over store.
func NewGate(opts Options, store FailureStore, logg *logger.Logger) (*Gate, error) {
	if store == nil {
		return nil, fmt.Errorf("failure store required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	allowed := make(map[string]struct{}, len(opts.AllowedIPs))
	for _, ip := range opts.AllowedIPs {
		if trimmed := strings.TrimSpace(ip); trimmed != "" {
			allowed[trimmed] = struct{}{}
		}
	}
	g := &Gate{
		allowed:  allowed,
		token:    opts.Token,
		max:      int64(opts.MaxFailures),
		window:   opts.FailureWindow,
		cooldown: opts.Cooldown,
		store:    store,
		logg:     logg,
	}
	if g.max <= 0 {
		g.max = defaultMaxFailures
	}
	if g.window <= 0 {
		g.window = defaultFailureWindow
	}
	if g.cooldown <= 0 {
		g.cooldown = defaultCooldown
	}
	return g, nil
}

func denied() error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "not found")
}

func (g *Gate) throttled() error {
	return pkgerrors.New(pkgerrors.CodeRateLimit, "too many requests").WithRetryAfter(g.cooldown)
}

// Authorize returns nil when ip and token match the configuration. Every
// refusal is an indistinguishable CodeNotFound, except the throttle.
func (g *Gate) Authorize(ctx context.Context, ip, token string) error {
	cooling, err := g.store.CoolingDown(ctx, ip)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check admin throttle")
	}
	if cooling {
		return g.throttled()
	}

	if g.token == "" || len(g.allowed) == 0 {
		return denied()
	}
	if _, ok := g.allowed[ip]; !ok {
		return denied()
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(g.token)) != 1 {
		g.recordFailure(ctx, ip)
		return denied()
	}

	if err := g.store.Reset(ctx, ip); err != nil {
		g.logg.Warn(ctx, fmt.Sprintf("reset admin failures: %v", err))
	}
	return nil
}

func (g *Gate) recordFailure(ctx context.Context, ip string) {
	count, err := g.store.RecordFailure(ctx, ip, g.window)
	if err != nil {
		g.logg.Error(ctx, "record admin failure", err)
		return
	}
	if count < g.max {
		return
	}
	if err := g.store.StartCooldown(ctx, ip, g.cooldown); err != nil {
		g.logg.Error(ctx, "start admin cooldown", err)
		return
	}
	g.logg.Warn(ctx, fmt.Sprintf("admin address %s throttled after %d failures", ip, count))
}
