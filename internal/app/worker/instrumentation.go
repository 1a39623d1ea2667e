package worker

import "go.opentelemetry.io/otel"

const scopeName = "github.com/dkeye/voice-agent/internal/app/worker"

var tracer = otel.Tracer(scopeName)
