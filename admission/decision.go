/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"fmt"
	"time"

	"github.com/acronis/go-jobthrottle/jobqueue"
)

// DecisionKind is a kind of admission decision.
type DecisionKind int

// Admission decision kinds.
const (
	DecisionAdmit DecisionKind = iota
	DecisionDelay
	DecisionDrop
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionAdmit:
		return "admit"
	case DecisionDelay:
		return "delay"
	case DecisionDrop:
		return "drop"
	}
	return fmt.Sprintf("DecisionKind(%d)", int(k))
}

// Decision is a result of admission of a job attempt.
type Decision struct {
	Kind  DecisionKind
	Delay time.Duration
}

// Admit allows running the job now.
func Admit() Decision { return Decision{Kind: DecisionAdmit} }

// Delay postpones the job.
func Delay(d time.Duration) Decision { return Decision{Kind: DecisionDelay, Delay: d} }

// Drop rejects the job permanently.
func Drop() Decision { return Decision{Kind: DecisionDrop} }

// Outcome converts the decision to the queue control signal.
func (d Decision) Outcome() jobqueue.Outcome {
	switch d.Kind {
	case DecisionDelay:
		return jobqueue.Delayed(d.Delay)
	case DecisionDrop:
		return jobqueue.Dropped()
	}
	return jobqueue.Completed()
}
