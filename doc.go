// Package loom is a resumable execution engine for AI-orchestration
// programs.
//
// A program runs as an explicit instruction-stack machine rather than on
// the Go call stack, so a run can suspend at any AI, user-input, tool, or
// host-code boundary, serialize to a single JSON document, and continue
// later in a different process. The Engine advances state and performs no
// I/O; the Driver wraps it with provider calls, tool execution, user
// input, and snapshots.
//
// The typical embedding is:
//
//	engine := loom.NewEngine(loom.WithConfig(cfg), loom.WithParser(parse))
//	st, err := engine.NewRun(program)
//	...
//	driver := loom.NewDriver(engine, provider, loom.WithTools(registry))
//	err = driver.Run(ctx, st)
//
// Drivers that need finer control call Engine.RunUntilPause directly and
// service st.Request() themselves with the ResumeWith* methods.
package loom
