package service

import (
	"context"
	"strconv"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/rs/zerolog"
)

const (
	MetricHTTPRequestCount   = "http_request_count"
	MetricHTTPRequestLatency = "http_request_latency"
	MetricJobCount           = "prediction_job_count"
	MetricJobQueueLatency    = "prediction_job_queue_latency"
	MetricJobExecuteLatency  = "prediction_job_execute_latency"
	MetricDatasetFetchCount  = "dataset_fetch_count"
	MetricDatasetFetchTime   = "dataset_fetch_latency"
)

// StatsdHooks forwards telemetry events to a DogStatsD agent. Client errors
// are logged at debug level and otherwise ignored.
type StatsdHooks struct {
	client statsd.ClientInterface
	rate   float64
	logger zerolog.Logger
}

func NewStatsdHooks(addr string, logger zerolog.Logger, opts ...statsd.Option) (*StatsdHooks, error) {
	opts = append([]statsd.Option{statsd.WithNamespace("tfserve.")}, opts...)
	client, err := statsd.New(addr, opts...)
	if err != nil {
		return nil, err
	}
	return NewStatsdHooksWithClient(client, logger), nil
}

func NewStatsdHooksWithClient(client statsd.ClientInterface, logger zerolog.Logger) *StatsdHooks {
	return &StatsdHooks{client: client, rate: 1, logger: logger}
}

func (h *StatsdHooks) Close() error {
	return h.client.Close()
}

func (h *StatsdHooks) OnHTTPRequestStart(_ context.Context, _ string, _ string) {}

func (h *StatsdHooks) OnHTTPRequestDone(
	_ context.Context,
	route string,
	_ string,
	statusCode int,
	duration time.Duration,
	_ error,
) {
	tags := []string{"route:" + route, "status:" + strconv.Itoa(statusCode)}
	h.check(h.client.Incr(MetricHTTPRequestCount, tags, h.rate))
	h.check(h.client.Timing(MetricHTTPRequestLatency, duration, tags, h.rate))
}

func (h *StatsdHooks) OnJob(
	_ context.Context,
	model string,
	queueWait time.Duration,
	execute time.Duration,
	err error,
) {
	tags := []string{"model:" + model, "outcome:" + outcome(err)}
	h.check(h.client.Incr(MetricJobCount, tags, h.rate))
	h.check(h.client.Timing(MetricJobQueueLatency, queueWait, tags, h.rate))
	h.check(h.client.Timing(MetricJobExecuteLatency, execute, tags, h.rate))
}

func (h *StatsdHooks) OnDatasetFetch(
	_ context.Context,
	dataset string,
	downloaded bool,
	duration time.Duration,
	err error,
) {
	tags := []string{
		"dataset:" + dataset,
		"downloaded:" + strconv.FormatBool(downloaded),
		"outcome:" + outcome(err),
	}
	h.check(h.client.Incr(MetricDatasetFetchCount, tags, h.rate))
	h.check(h.client.Timing(MetricDatasetFetchTime, duration, tags, h.rate))
}

func (h *StatsdHooks) check(err error) {
	if err != nil {
		h.logger.Debug().Err(err).Msg("statsd_send_failed")
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
