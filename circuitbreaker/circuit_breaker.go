package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/afex/hystrix-go/hystrix"
)

type FallbackFunc func() ([]any, error)

// FunctorCallStatus is the outcome of one functor run inside a command.
type FunctorCallStatus struct {
	Name      string
	Timestamp time.Time
	Err       error
}

type CommandResult struct {
	res       []any
	err       error
	cancelled bool
	skipped   int
	statuses  []FunctorCallStatus
}

func (cr CommandResult) Result() []any {
	return cr.res
}

func (cr CommandResult) Error() error {
	return cr.err
}

func (cr CommandResult) Cancelled() bool {
	return cr.cancelled
}

// Skipped returns how many functors were not run because their gate refused.
func (cr CommandResult) Skipped() int {
	return cr.skipped
}

// FunctorCallStatuses lists the functors that were run, in order.
func (cr CommandResult) FunctorCallStatuses() []FunctorCallStatus {
	return cr.statuses
}

type Command struct {
	ctx      context.Context
	functors []*Functor
	cancel   atomic.Bool
}

func NewCommand(ctx context.Context, functors []*Functor) *Command {
	return &Command{
		ctx:      ctx,
		functors: functors,
	}
}

func (cmd *Command) Add(ftor *Functor) {
	cmd.functors = append(cmd.functors, ftor)
}

func (cmd *Command) IsEmpty() bool {
	return len(cmd.functors) == 0
}

// Cancel stops the command after the running functor. A functor calling
// Cancel before returning an error marks that error as final: it is
// returned to the caller and not counted against the functor's circuit.
func (cmd *Command) Cancel() {
	cmd.cancel.Store(true)
}

func (cmd *Command) IsCancelled() bool {
	return cmd.cancel.Load()
}

type Config struct {
	Timeout                int
	MaxConcurrentRequests  int
	RequestVolumeThreshold int
	SleepWindow            int
	ErrorPercentThreshold  int
}

type CircuitBreaker struct {
	config Config
}

func NewCircuitBreaker(config Config) *CircuitBreaker {
	return &CircuitBreaker{
		config: config,
	}
}

type Functor struct {
	exec        FallbackFunc
	circuitName string
	allow       func() bool
	config      *Config
}

func NewFunctor(exec FallbackFunc, circuitName string) *Functor {
	return &Functor{
		exec:        exec,
		circuitName: circuitName,
	}
}

// WithGate makes the functor run only when allow returns true. allow is
// evaluated lazily, when the command reaches the functor.
func (f *Functor) WithGate(allow func() bool) *Functor {
	f.allow = allow
	return f
}

// WithConfig configures the functor's circuit instead of the breaker config.
func (f *Functor) WithConfig(config Config) *Functor {
	f.config = &config
	return f
}

func CircuitExists(circuitName string) bool {
	_, ok := hystrix.GetCircuitSettings()[circuitName]
	return ok
}

func IsCircuitOpen(circuitName string) bool {
	circuit, _, err := hystrix.GetCircuit(circuitName)
	return err == nil && circuit.IsOpen()
}

func (cb *CircuitBreaker) configure(f *Functor) {
	if CircuitExists(f.circuitName) {
		return
	}
	config := cb.config
	if f.config != nil {
		config = *f.config
	}
	hystrix.ConfigureCommand(f.circuitName, hystrix.CommandConfig{
		Timeout:                config.Timeout,
		MaxConcurrentRequests:  config.MaxConcurrentRequests,
		RequestVolumeThreshold: config.RequestVolumeThreshold,
		SleepWindow:            config.SleepWindow,
		ErrorPercentThreshold:  config.ErrorPercentThreshold,
	})
}

// Executes the command in its circuit if set.
// If the command's circuit is not configured, the circuit of the CircuitBreaker is used.
// The last functor is run even when its circuit is open, so a command is
// never rejected without trying at least one provider.
// This is a blocking function.
func (cb *CircuitBreaker) Execute(cmd *Command) CommandResult {
	if cmd == nil || cmd.IsEmpty() {
		return CommandResult{err: fmt.Errorf("command is nil or empty")}
	}

	var result CommandResult
	ctx := cmd.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	for i, f := range cmd.functors {
		if cmd.IsCancelled() {
			result.cancelled = true
			break
		}
		if f.allow != nil && !f.allow() {
			result.skipped++
			continue
		}
		cb.configure(f)

		res, err := cb.run(ctx, cmd, f, i == len(cmd.functors)-1)
		result.statuses = append(result.statuses, FunctorCallStatus{
			Name:      f.circuitName,
			Timestamp: time.Now(),
			Err:       err,
		})

		if err == nil {
			result.res = res
			result.err = nil
			break
		}

		// Accumulate errors
		if result.err != nil {
			result.err = fmt.Errorf("%w, %s.error: %w", result.err, f.circuitName, err)
		} else {
			result.err = fmt.Errorf("%s.error: %w", f.circuitName, err)
		}

		if cmd.IsCancelled() {
			result.cancelled = true
			break
		}
		// Lets abuse every provider with the same amount of MaxConcurrentRequests,
		// keep iterating even in case of ErrMaxConcurrency error
	}

	return result
}

func (cb *CircuitBreaker) run(ctx context.Context, cmd *Command, f *Functor, last bool) ([]any, error) {
	var (
		mu      sync.Mutex
		res     []any
		execErr error
	)

	err := hystrix.DoC(ctx, f.circuitName, func(ctx context.Context) error {
		r, e := f.exec()
		mu.Lock()
		res, execErr = r, e
		mu.Unlock()
		if e != nil && cmd.IsCancelled() {
			return nil
		}
		return e
	}, nil)

	if errors.Is(err, hystrix.ErrCircuitOpen) && last {
		return f.exec()
	}
	if err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	return res, execErr
}
