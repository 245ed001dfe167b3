// Package preflight validates the environment before docrag starts
// serving: disk space, memory, write permissions in the data
// directory, file descriptor limits, and the LLM gateway (endpoint
// reachability plus an embedding dimension match against persisted
// indices).
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New(preflight.WithGateway(gw))
//	results := checker.RunAll(ctx, dataDir)
//	if checker.HasCriticalFailures(results) {
//	    // refuse to start
//	}
//
// A passed run leaves a marker file in the data directory so later
// starts can skip the checks (see NeedsCheck and MarkPassed).
package preflight
