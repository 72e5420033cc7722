// Package windlass is an HTTP workflow orchestration engine.
//
// A Workflow is a sequence of Steps, each driving one ApiConfig either once
// (DIRECT) or once per item of a JSONata-selected collection (LOOP). Data
// flows between steps through JSONata expressions: a step's InputMapping
// projects the running execution state into its request, and its
// ResponseMapping projects the raw HTTP response back into the state before
// the next step runs. A workflow's FinalTransform produces the run's
// output, optionally checked against a JSON Schema.
//
// # Quick Start
//
//	eval := expr.New()
//	caller := httpcall.New(eval)
//	exec := windlass.NewExecutor(caller, eval, nil)
//	run := exec.Execute(ctx, workflow, tenant, input, windlass.ExecuteOptions{})
//
// # Core Interfaces
//
// The root package defines the contracts every component implements:
//
//   - [Entity] / [EntityStore] — generic per-kind persistence contract
//   - [Tracer] / [Span] — span-per-operation tracing; no spans are recorded unless a
//     Tracer is supplied (package observer provides an OTEL-backed one)
//   - [Caller] — HTTP request execution (httpcall.Caller satisfies it)
//
// # Included Implementations
//
// Storage: store/memory (ephemeral), store/sqlite (local), store/postgres
// (networked). Expression evaluation and schema validation: package expr.
// HTTP calling: package httpcall. Tracing: package observer. Transport:
// package rpc (chi-based HTTP/JSON façade).
//
// See cmd/windlass-server for a complete reference application.
package windlass
