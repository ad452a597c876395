// Package telemetry provides OpenTelemetry instrumentation for processd.
//
// # Overview
//
// Telemetry owns the SDK tracer and meter providers and exports over OTLP,
// gRPC by default or HTTP/protobuf for https:// endpoints. The orchestrator
// records pattern.run, pattern.step and pattern.rollback spans plus run
// counters and durations through the tracer and meter handed out here.
//
// # Usage
//
//	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	exec := orchestrator.NewExecutor(v, c,
//	    orchestrator.WithTracer(tel.Tracer("processd.orchestrator")),
//	    orchestrator.WithMeter(tel.Meter("processd.orchestrator")),
//	)
//
// # Error Handling
//
// Exporter construction failures do not stop the daemon. The instance
// falls back to the global no-op providers and Health reports Degraded.
//
// # Testing
//
//	tt := telemetry.NewTestTelemetry()
//	_, span := tt.Tracer("test").Start(ctx, "work")
//	span.End()
//	tt.AssertSpanExists(t, "work")
package telemetry
