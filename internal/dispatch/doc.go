// Package dispatch is the public face of the engine. It routes incoming
// requests, submits jobs to the worker pool, and shapes results for callers.
// Recoverable failures never surface as errors from Analyze, Execute, or Fix;
// callers get a degraded result whose success and confidence fields say so.
package dispatch
