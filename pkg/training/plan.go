package training

import (
	"fmt"

	"github.com/pivot-spdz/dtree-client/internal/dataset"
	"github.com/pivot-spdz/dtree-client/pkg/binning"
	"github.com/pivot-spdz/dtree-client/pkg/indicator"
)

// Segment is a run of consecutive values exchanged in one state.
type Segment struct {
	State State
	// Values is the number of field elements. For AwaitingResult it is the
	// size of the result the engines return.
	Values int
	// Public segments are broadcast in the clear, without triples.
	Public bool
}

// Plan returns the exchanges a run performs on part, in order. Engines and
// simulators use it to know how many inputs to expect from this client.
func Plan(cfg Config, part *dataset.Partition) ([]Segment, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{cfg: cfg}
	train, err := o.trainingRows(part)
	if err != nil {
		return nil, err
	}
	n, f := train.Samples(), train.Features()

	plan := []Segment{{State: SharingRawFeatures, Values: n * f}}
	classes := 0
	if cfg.LabelHolder() {
		cs, _ := indicator.ClassIndicators(train.Labels)
		classes = len(cs)
		plan = append(plan,
			Segment{State: SharingLabels, Values: n},
			Segment{State: SharingLabelIndicators, Values: classes * n},
		)
	}

	splits := 0
	for j := 0; j < f; j++ {
		s, err := binning.ComputeSplits(train.Column(j), cfg.MaxSplits)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", j, err)
		}
		splits += s.Count
	}
	if cfg.AnnounceParams {
		plan = append(plan, Segment{State: AnnouncingParams, Values: 3, Public: true})
	}
	plan = append(plan,
		Segment{State: SharingSplitParameters, Values: f * (cfg.MaxSplits + 1)},
		Segment{State: SharingIndicatorVectors, Values: 2 * splits * n},
		Segment{State: AwaitingResult, Values: cfg.OutputSize},
	)
	return plan, nil
}
