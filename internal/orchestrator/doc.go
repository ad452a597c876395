// Package orchestrator runs business-process patterns step by step under
// tool contracts, compensating completed steps when a required step fails.
//
// # Overview
//
// A run moves through NotStarted → Running → one of Completed, Failed,
// RolledBack or Cancelled. For each step, in ascending order, the Executor:
//
//   - evaluates skip_if against the run's ExecutionContext and skips the step
//     when it holds
//   - resolves {{scope.path}} placeholders in the step arguments
//   - hands the step to the StepRunner, which checks preconditions, invokes
//     the tool and checks postconditions and store assertions
//   - stores a passing step's result under the step name for later steps
//
// # Failures
//
// An optional step may fail without stopping the run; the run completes as
// degraded. A failed required step stops forward execution and every
// completed step is handed to the Compensator, most recent first. A step that
// failed after its tool ran (postcondition or store assertion) is
// compensated too. The run ends RolledBack when anything had to be undone and
// Failed otherwise. Summary.Outcome distinguishes clean completion,
// completion with gaps, rollback, incomplete rollback and cancellation.
//
// Cancellation is observed between steps. Completed steps are compensated
// before the run ends as Cancelled.
//
// # Gates
//
// Gates inspect the run request before the first step:
//   - CoverageGate: warns about steps that will run without a contract
//   - InputGate: warns about required steps referencing absent input
//   - ContextGate: requires run context keys such as the tenant id
//
// Violations of severity error or critical block the run with ErrBlocked.
//
// # Usage
//
//	v := verifier.New(contracts, tools, verifier.WithStore(st), verifier.WithRecorder(collector))
//	c := rollback.NewCoordinator(contracts, tools)
//	exec := orchestrator.NewExecutor(v, c, orchestrator.WithLogger(logger))
//	exec.RegisterGate(orchestrator.NewCoverageGate(contracts))
//
//	summary, err := exec.Run(ctx, p, input, map[string]any{"tenant_id": "acme"})
//
// # Observability
//
// Every run gets a uuid run id, carried in log fields. Runs and steps are
// traced as pattern.run, pattern.step and pattern.rollback spans; the
// processd.runs counter and processd.run.duration histogram are labelled
// by pattern, status and outcome.
package orchestrator
