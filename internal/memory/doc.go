// Package memory provides heap-based backpressure for the pipeline stages.
//
// ConfigureFromEnv derives GOMEMLIMIT from the container limit. A Monitor then
// samples the heap and pauses batch processing above the critical water mark
// until usage drops below the high water mark. IsConstrained tells the worker
// sizing code to halve batch sizes and parallelism on small hosts.
package memory
