package service

import (
	"context"
	"time"
)

type TelemetryHooks interface {
	OnHTTPRequestStart(ctx context.Context, route string, requestID string)
	OnHTTPRequestDone(
		ctx context.Context,
		route string,
		requestID string,
		statusCode int,
		duration time.Duration,
		err error,
	)
	OnJob(
		ctx context.Context,
		model string,
		queueWait time.Duration,
		execute time.Duration,
		err error,
	)
	OnDatasetFetch(
		ctx context.Context,
		dataset string,
		downloaded bool,
		duration time.Duration,
		err error,
	)
}

type NopTelemetryHooks struct{}

func (NopTelemetryHooks) OnHTTPRequestStart(
	_ context.Context,
	_ string,
	_ string,
) {
}

func (NopTelemetryHooks) OnHTTPRequestDone(
	_ context.Context,
	_ string,
	_ string,
	_ int,
	_ time.Duration,
	_ error,
) {
}

func (NopTelemetryHooks) OnJob(
	_ context.Context,
	_ string,
	_ time.Duration,
	_ time.Duration,
	_ error,
) {
}

func (NopTelemetryHooks) OnDatasetFetch(
	_ context.Context,
	_ string,
	_ bool,
	_ time.Duration,
	_ error,
) {
}
