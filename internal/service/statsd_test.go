package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingStatsd struct {
	*statsd.NoOpClient
	mu      sync.Mutex
	counts  map[string][]string
	timings map[string]time.Duration
}

func newRecordingStatsd() *recordingStatsd {
	return &recordingStatsd{
		NoOpClient: &statsd.NoOpClient{},
		counts:     map[string][]string{},
		timings:    map[string]time.Duration{},
	}
}

func (r *recordingStatsd) Incr(name string, tags []string, _ float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[name] = append([]string(nil), tags...)
	return nil
}

func (r *recordingStatsd) Timing(name string, value time.Duration, _ []string, _ float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timings[name] = value
	return nil
}

func TestStatsdHooksJob(t *testing.T) {
	client := newRecordingStatsd()
	hooks := NewStatsdHooksWithClient(client, zerolog.Nop())

	hooks.OnJob(context.Background(), "transcriptformer-tf_sapiens", 5*time.Millisecond, 2*time.Second, errBoom)

	tags := client.counts[MetricJobCount]
	sort.Strings(tags)
	assert.Equal(t, []string{"model:transcriptformer-tf_sapiens", "outcome:error"}, tags)
	assert.Equal(t, 2*time.Second, client.timings[MetricJobExecuteLatency])
	assert.Equal(t, 5*time.Millisecond, client.timings[MetricJobQueueLatency])
}

func TestStatsdHooksHTTPAndDataset(t *testing.T) {
	client := newRecordingStatsd()
	var hooks TelemetryHooks = NewStatsdHooksWithClient(client, zerolog.Nop())

	hooks.OnHTTPRequestDone(context.Background(), "/predict", "req-1", 503, time.Millisecond, ErrQueueFull)
	hooks.OnDatasetFetch(context.Background(), "heart_tabula_sapiens", true, time.Minute, nil)

	httpTags := client.counts[MetricHTTPRequestCount]
	require.Len(t, httpTags, 2)
	assert.Equal(t, "status:503", httpTags[1])
	tags := client.counts[MetricDatasetFetchCount]
	require.Len(t, tags, 3)
	assert.Equal(t, []string{"downloaded:true", "outcome:success"}, tags[1:])
}

func TestNewStatsdHooks(t *testing.T) {
	hooks, err := NewStatsdHooks("127.0.0.1:8125", zerolog.Nop())
	require.NoError(t, err)
	hooks.OnJob(context.Background(), "m", 0, 0, nil)
	assert.NoError(t, hooks.Close())
}
