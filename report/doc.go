// Package report carries the progress and error lines workloads produce.
//
// A Sink receives whole lines. Memory keeps them for tests and embedding
// applications, Writer prints them to a terminal or file, and Multi fans
// out to several sinks. Format numbers for lines with Sprintf, which groups
// digits the way the runner's output expects ("1,000,000").
package report
