package engine

import (
	iface "CoDetServer/interface"

	"github.com/samber/lo"
)

// Result is the outcome of applying a Policy to one detection batch.
type Result struct {
	Matched bool
	GroupA  []iface.Detection
	GroupB  []iface.Detection
}

// Classify splits the batch into the two target groups. It has no side effects and does not
// retain or modify batch.
func (p Policy) Classify(batch []iface.Detection) Result {
	groupA := lo.Filter(batch, func(d iface.Detection, _ int) bool {
		return d.Class == p.TargetClassA && d.Confidence >= p.ConfidenceThreshold
	})
	groupB := lo.Filter(batch, func(d iface.Detection, _ int) bool {
		return d.Class == p.TargetClassB && d.Confidence >= p.ConfidenceThreshold
	})
	return Result{
		Matched: len(groupA) > 0 && len(groupB) > 0,
		GroupA:  groupA,
		GroupB:  groupB,
	}
}
