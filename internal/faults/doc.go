// Package faults defines the failure taxonomy shared by the pipeline stages.
//
// Transient errors (temporary inaccessibility, revoked permission) are retried
// by the orchestrator a bounded number of times. Persistence errors fail the
// stage immediately. Data errors are absorbed per asset and never surface as a
// stage failure.
package faults
