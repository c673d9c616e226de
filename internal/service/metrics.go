package service

import (
	"fmt"
	"sync/atomic"
	"time"
)

type Metrics struct {
	requestsTotal     atomic.Int64
	requestsFailed    atomic.Int64
	requestsRejected  atomic.Int64
	jobsTotal         atomic.Int64
	jobErrorsTotal    atomic.Int64
	inflight          atomic.Int64
	latencyNanos      atomic.Int64
	queueLatencyNanos atomic.Int64
	queueLatencyMax   atomic.Int64
	executeNanos      atomic.Int64
	executeNanosMax   atomic.Int64
	datasetFetches    atomic.Int64
	datasetDownloads  atomic.Int64
	datasetErrors     atomic.Int64
}

type MetricsSnapshot struct {
	RequestsTotal    int64
	RequestsFailed   int64
	RequestsRejected int64
	JobsTotal        int64
	JobErrorsTotal   int64
	InFlight         int64
	AvgLatencyMillis float64
	AvgQueueMillis   float64
	MaxQueueMillis   float64
	AvgExecuteMillis float64
	MaxExecuteMillis float64
	DatasetFetches   int64
	DatasetDownloads int64
	DatasetErrors    int64
}

func (m *Metrics) RecordRequestStart() {
	m.requestsTotal.Add(1)
	m.inflight.Add(1)
}

func (m *Metrics) RecordRequestDone(latency time.Duration, err error) {
	m.inflight.Add(-1)
	m.latencyNanos.Add(latency.Nanoseconds())
	if err != nil {
		m.requestsFailed.Add(1)
	}
}

func (m *Metrics) RecordRejected() {
	m.requestsRejected.Add(1)
}

func (m *Metrics) RecordJob(queueWait time.Duration, execute time.Duration, success bool) {
	m.jobsTotal.Add(1)

	queueNanos := max(queueWait.Nanoseconds(), 0)
	m.queueLatencyNanos.Add(queueNanos)
	updateAtomicMax(&m.queueLatencyMax, queueNanos)

	execNanos := max(execute.Nanoseconds(), 0)
	m.executeNanos.Add(execNanos)
	updateAtomicMax(&m.executeNanosMax, execNanos)

	if !success {
		m.jobErrorsTotal.Add(1)
	}
}

func (m *Metrics) RecordDatasetFetch(downloaded bool, err error) {
	m.datasetFetches.Add(1)
	if downloaded {
		m.datasetDownloads.Add(1)
	}
	if err != nil {
		m.datasetErrors.Add(1)
	}
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	requestCount := m.requestsTotal.Load()
	avgMillis := 0.0
	if requestCount > 0 {
		avgMillis = float64(m.latencyNanos.Load()) / float64(requestCount) / float64(time.Millisecond)
	}
	jobCount := m.jobsTotal.Load()
	avgQueue := 0.0
	avgExecute := 0.0
	if jobCount > 0 {
		avgQueue = float64(m.queueLatencyNanos.Load()) / float64(jobCount) / float64(time.Millisecond)
		avgExecute = float64(m.executeNanos.Load()) / float64(jobCount) / float64(time.Millisecond)
	}
	return MetricsSnapshot{
		RequestsTotal:    requestCount,
		RequestsFailed:   m.requestsFailed.Load(),
		RequestsRejected: m.requestsRejected.Load(),
		JobsTotal:        jobCount,
		JobErrorsTotal:   m.jobErrorsTotal.Load(),
		InFlight:         m.inflight.Load(),
		AvgLatencyMillis: avgMillis,
		AvgQueueMillis:   avgQueue,
		MaxQueueMillis:   float64(m.queueLatencyMax.Load()) / float64(time.Millisecond),
		AvgExecuteMillis: avgExecute,
		MaxExecuteMillis: float64(m.executeNanosMax.Load()) / float64(time.Millisecond),
		DatasetFetches:   m.datasetFetches.Load(),
		DatasetDownloads: m.datasetDownloads.Load(),
		DatasetErrors:    m.datasetErrors.Load(),
	}
}

func (s MetricsSnapshot) PrometheusText() string {
	return fmt.Sprintf(
		"tfserve_requests_total %d\n"+
			"tfserve_requests_failed_total %d\n"+
			"tfserve_requests_rejected_total %d\n"+
			"tfserve_jobs_total %d\n"+
			"tfserve_job_errors_total %d\n"+
			"tfserve_inflight %d\n"+
			"tfserve_request_latency_ms_avg %.6f\n"+
			"tfserve_queue_latency_ms_avg %.6f\n"+
			"tfserve_queue_latency_ms_max %.6f\n"+
			"tfserve_execute_latency_ms_avg %.6f\n"+
			"tfserve_execute_latency_ms_max %.6f\n"+
			"tfserve_dataset_fetches_total %d\n"+
			"tfserve_dataset_downloads_total %d\n"+
			"tfserve_dataset_errors_total %d\n",
		s.RequestsTotal,
		s.RequestsFailed,
		s.RequestsRejected,
		s.JobsTotal,
		s.JobErrorsTotal,
		s.InFlight,
		s.AvgLatencyMillis,
		s.AvgQueueMillis,
		s.MaxQueueMillis,
		s.AvgExecuteMillis,
		s.MaxExecuteMillis,
		s.DatasetFetches,
		s.DatasetDownloads,
		s.DatasetErrors,
	)
}

func updateAtomicMax(target *atomic.Int64, value int64) {
	for {
		current := target.Load()
		if value <= current {
			return
		}
		if target.CompareAndSwap(current, value) {
			return
		}
	}
}
