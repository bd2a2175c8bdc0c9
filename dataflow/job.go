// Package dataflow implements the job-graph model (spec.md §3) and its
// compilation to an immutable JobGraph (spec.md §2 "job-graph model").
package dataflow

import "github.com/mkungla/flowmesh/id"

// JobKind distinguishes the two Job variants.
type JobKind uint8

const (
	// JobOperator names an operator endpoint.
	JobOperator JobKind = iota
	// JobDriver names the driver endpoint.
	JobDriver
)

// Job is a tagged variant: Operator(OperatorID) or Driver. It identifies
// the endpoint of a stream (spec.md §3 "Job").
type Job struct {
	Kind     JobKind
	Operator id.OperatorID
}

// OperatorJob builds a Job naming the given operator.
func OperatorJob(opID id.OperatorID) Job { return Job{Kind: JobOperator, Operator: opID} }

// DriverJob is the Job naming the driver.
var DriverJob = Job{Kind: JobDriver}

// IsDriver reports whether j names the driver.
func (j Job) IsDriver() bool { return j.Kind == JobDriver }

func (j Job) String() string {
	if j.IsDriver() {
		return "Driver"
	}
	return "Operator(" + j.Operator.String() + ")"
}
