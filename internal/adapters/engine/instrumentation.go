package engine

import "go.opentelemetry.io/otel"

const scopeName = "github.com/dkeye/voice-agent/internal/adapters/engine"

var tracer = otel.Tracer(scopeName)
