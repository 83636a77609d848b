// Package breaker 实现熔断器：按依赖名跟踪失败，在滚动窗口内失败数
// 超过阈值后快速失败，冷却期后放行单个探测请求。
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrServiceUnavailable 熔断器打开，调用被短路。
// 通过 errors.Is 可与业务规则错误区分。
var ErrServiceUnavailable = errors.New("service unavailable: circuit breaker open")

// State 熔断器状态。
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config 单个熔断器配置。
type Config struct {
	// FailureThreshold 滚动窗口内打开熔断所需的失败次数。
	FailureThreshold int
	// Window 失败计数的滚动窗口。
	Window time.Duration
	// Cooldown 打开后进入半开探测前的冷却时长。
	Cooldown time.Duration
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Window:           60 * time.Second,
		Cooldown:         30 * time.Second,
	}
}

// CircuitBreaker 单个依赖的熔断器。并发安全。
type CircuitBreaker struct {
	name string
	cfg  Config

	mu            sync.Mutex
	state         State
	failures      []time.Time // 窗口内的失败时间戳
	lastFailure   time.Time
	probeInFlight bool

	now func() time.Time
}

// New 创建熔断器。
func New(name string, cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	return &CircuitBreaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// State 返回当前状态（会先评估冷却期转移）。
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.evaluate()
	return cb.state
}

// allow 判断本次调用是否放行。半开状态只放行一个探测请求。
func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.evaluate()
	switch cb.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if cb.probeInFlight {
			return false
		}
		cb.probeInFlight = true
		return true
	default:
		return false
	}
}

// evaluate 处理基于时间的状态转移，调用方必须持锁。
func (cb *CircuitBreaker) evaluate() {
	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) >= cb.cfg.Cooldown {
		cb.state = StateHalfOpen
		cb.probeInFlight = false
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = nil
	cb.probeInFlight = false
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.lastFailure = now

	if cb.state == StateHalfOpen {
		// 探测失败，回到打开状态并重新计时冷却。
		cb.state = StateOpen
		cb.probeInFlight = false
		return
	}

	cutoff := now.Add(-cb.cfg.Window)
	kept := cb.failures[:0]
	for _, t := range cb.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	cb.failures = append(kept, now)

	if len(cb.failures) >= cb.cfg.FailureThreshold {
		cb.state = StateOpen
	}
}

// Call 执行受保护的操作。熔断打开时直接返回 ErrServiceUnavailable，
// 不会调用底层操作；底层错误原样保留在错误链中。
func (cb *CircuitBreaker) Call(ctx context.Context, op func(ctx context.Context) error) error {
	if !cb.allow() {
		return fmt.Errorf("%w: %s", ErrServiceUnavailable, cb.name)
	}
	if err := op(ctx); err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

// Registry 按服务名管理进程级熔断器。
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	cfg      Config
	logger   *slog.Logger
}

// NewRegistry 创建熔断器注册表，所有熔断器共用同一配置。
func NewRegistry(cfg Config, logger *slog.Logger) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg,
		logger:   logger.With("module", "breaker"),
	}
}

// Get 返回服务对应的熔断器，首次访问时创建。
func (r *Registry) Get(service string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[service]
	if !ok {
		cb = New(service, r.cfg)
		r.breakers[service] = cb
	}
	return cb
}

// Call 在指定服务的熔断器保护下执行操作。
func (r *Registry) Call(ctx context.Context, service string, op func(ctx context.Context) error) error {
	cb := r.Get(service)
	before := cb.State()
	err := cb.Call(ctx, op)
	if after := cb.State(); after != before {
		r.logger.WarnContext(ctx, "circuit breaker state changed",
			"service", service, "from", before.String(), "to", after.String())
	}
	return err
}
