package otel

import otelMetric "go.opentelemetry.io/otel/metric"

const meterPrefix = "go.svc.client."

type meters struct {
	inFlight     otelMetric.Int64UpDownCounter
	duration     otelMetric.Float64Histogram
	bodyDuration otelMetric.Float64Histogram
}

func newMeters(meter otelMetric.Meter) *meters {
	return &meters{
		inFlight:     upDownCounter(meter, meterPrefix+"request.in_flight", "HTTP client: in flight requests."),
		duration:     histogram(meter, meterPrefix+"request.duration", "HTTP client: duration until the response headers are received.", "ms"),
		bodyDuration: histogram(meter, meterPrefix+"response.body.duration", "HTTP client: duration until the response body is closed.", "ms"),
	}
}

func upDownCounter(meter otelMetric.Meter, name, desc string) otelMetric.Int64UpDownCounter {
	return mustInstrument(meter.Int64UpDownCounter(name, otelMetric.WithDescription(desc)))
}

func histogram(meter otelMetric.Meter, name, desc string, unit string) otelMetric.Float64Histogram {
	return mustInstrument(meter.Float64Histogram(name, otelMetric.WithDescription(desc), otelMetric.WithUnit(unit)))
}

func mustInstrument[T any](instrument T, err error) T {
	if err != nil {
		panic(err)
	}
	return instrument
}
