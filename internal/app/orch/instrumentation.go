package orch

import "go.opentelemetry.io/otel"

const scopeName = "github.com/dkeye/voice-agent/internal/app/orch"

var tracer = otel.Tracer(scopeName)
