package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/transcriptformer/tfserve/internal/predictor"
)

type job struct {
	ctx      context.Context
	req      predictor.PredictionRequest
	enqueued time.Time
	result   chan JobResult
}

// JobResult carries the prediction outcome with the time the job spent
// queued and executing.
type JobResult struct {
	Result    predictor.PredictionResult
	QueueWait time.Duration
	Execute   time.Duration
	Err       error
}

type DispatcherConfig struct {
	// MaxConcurrent bounds the number of inference processes running at once.
	MaxConcurrent int
	QueueSize     int
	OnJob         func(queueWait time.Duration, execute time.Duration, err error)
	Logger        zerolog.Logger
	Hooks         TelemetryHooks
}

// Dispatcher runs prediction jobs on a fixed pool of workers fed by a bounded
// queue. Submit fails fast with ErrQueueFull instead of blocking.
type Dispatcher struct {
	predictor Predictor
	cfg       DispatcherConfig

	queue    chan job
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   zerolog.Logger
	hooks    TelemetryHooks
}

func NewDispatcher(p Predictor, cfg DispatcherConfig) (*Dispatcher, error) {
	if p == nil {
		return nil, errors.New("predictor must not be nil")
	}
	if cfg.MaxConcurrent <= 0 {
		return nil, fmt.Errorf("max concurrent must be > 0")
	}
	if cfg.QueueSize < 0 {
		return nil, fmt.Errorf("queue size must be >= 0")
	}
	hooks := cfg.Hooks
	if hooks == nil {
		hooks = NopTelemetryHooks{}
	}
	return &Dispatcher{
		predictor: p,
		cfg:       cfg,
		queue:     make(chan job, cfg.QueueSize),
		stop:      make(chan struct{}),
		logger:    cfg.Logger,
		hooks:     hooks,
	}, nil
}

func (d *Dispatcher) Start() {
	for worker := 0; worker < d.cfg.MaxConcurrent; worker++ {
		worker := worker
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.run(worker)
		}()
	}
}

// Stop lets running jobs finish; queued jobs are abandoned and their
// submitters receive ErrDispatcherStopped.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stop)
	})
	d.wg.Wait()
}

func (d *Dispatcher) Submit(ctx context.Context, req predictor.PredictionRequest) (JobResult, error) {
	select {
	case <-ctx.Done():
		return JobResult{}, ctx.Err()
	case <-d.stop:
		return JobResult{}, ErrDispatcherStopped
	default:
	}

	item := job{
		ctx:      ctx,
		req:      req,
		enqueued: time.Now(),
		result:   make(chan JobResult, 1),
	}
	select {
	case d.queue <- item:
	default:
		return JobResult{}, ErrQueueFull
	}

	select {
	case result := <-item.result:
		return result, result.Err
	case <-ctx.Done():
		return JobResult{}, ctx.Err()
	case <-d.stop:
		return JobResult{}, ErrDispatcherStopped
	}
}

func (d *Dispatcher) run(worker int) {
	for {
		select {
		case <-d.stop:
			return
		case item := <-d.queue:
			d.process(worker, item)
		}
	}
}

func (d *Dispatcher) process(worker int, item job) {
	start := time.Now()
	queueWait := start.Sub(item.enqueued)
	if err := item.ctx.Err(); err != nil {
		// the submitter already gave up
		item.result <- JobResult{QueueWait: queueWait, Err: err}
		return
	}

	result, err := d.predictor.Predict(item.ctx, item.req)
	execute := time.Since(start)
	if d.cfg.OnJob != nil {
		d.cfg.OnJob(queueWait, execute, err)
	}
	d.hooks.OnJob(item.ctx, d.predictor.Name(), queueWait, execute, err)

	event := d.logger.Info()
	msg := "prediction_job_done"
	if err != nil {
		event = d.logger.Error().Err(err)
		msg = "prediction_job_failed"
	}
	event.
		Str("model", d.predictor.Name()).
		Int("worker", worker).
		Str("input_path", item.req.InputPath).
		Float64("queue_wait_ms", durationMillis(queueWait)).
		Float64("execute_ms", durationMillis(execute)).
		Msg(msg)

	item.result <- JobResult{Result: result, QueueWait: queueWait, Execute: execute, Err: err}
}

func durationMillis(value time.Duration) float64 {
	if value < 0 {
		return 0.0
	}
	return float64(value) / float64(time.Millisecond)
}
