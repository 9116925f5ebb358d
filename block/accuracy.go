package block

import (
	"github.com/dnldd/blockcast/shared"
)

// Accuracy represents forecast accuracy over a set of predictions.
type Accuracy struct {
	Total    int
	Verified int
	Correct  int
	Wrong    int
	Pending  int
	// Percent is the percentage of verified predictions that were correct.
	Percent float64
}

// add accounts for the provided prediction.
func (a *Accuracy) add(p *shared.BlockPrediction) {
	a.Total++
	if p.Status() != shared.Verified || p.Result == nil {
		a.Pending++
		return
	}

	a.Verified++
	switch *p.Result {
	case shared.Correct:
		a.Correct++
	default:
		a.Wrong++
	}

	a.Percent = (float64(a.Correct) / float64(a.Verified)) * 100
}

// AccuracySummary represents forecast accuracy overall and per decision tree.
type AccuracySummary struct {
	Overall Accuracy
	ByTree  map[shared.Tree]*Accuracy
}

// SummarizeAccuracy computes the forecast accuracy of the provided predictions.
func SummarizeAccuracy(predictions []*shared.BlockPrediction) AccuracySummary {
	summary := AccuracySummary{
		ByTree: map[shared.Tree]*Accuracy{
			shared.TreeA: {},
			shared.TreeB: {},
			shared.TreeC: {},
		},
	}

	for _, p := range predictions {
		if p == nil {
			continue
		}

		summary.Overall.add(p)
		tree, ok := summary.ByTree[p.Tree]
		if !ok {
			tree = &Accuracy{}
			summary.ByTree[p.Tree] = tree
		}
		tree.add(p)
	}

	return summary
}
