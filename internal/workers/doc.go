// Package workers sizes worker pools and batches from the CPU budget.
package workers
