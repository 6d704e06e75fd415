package training

import "fmt"

// State is a step of the training run. States are visited in declaration
// order; label states are skipped by clients without labels and
// AnnouncingParams only runs when enabled.
type State int

const (
	Connecting State = iota
	LoadingData
	SharingRawFeatures
	SharingLabels
	SharingLabelIndicators
	ComputingSplitsLocally
	AnnouncingParams
	SharingSplitParameters
	SharingIndicatorVectors
	AwaitingResult
	Closed
	Aborted
)

var stateNames = [...]string{
	Connecting:              "Connecting",
	LoadingData:             "LoadingData",
	SharingRawFeatures:      "SharingRawFeatures",
	SharingLabels:           "SharingLabels",
	SharingLabelIndicators:  "SharingLabelIndicators",
	ComputingSplitsLocally:  "ComputingSplitsLocally",
	AnnouncingParams:        "AnnouncingParams",
	SharingSplitParameters:  "SharingSplitParameters",
	SharingIndicatorVectors: "SharingIndicatorVectors",
	AwaitingResult:          "AwaitingResult",
	Closed:                  "Closed",
	Aborted:                 "Aborted",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool { return s == Closed || s == Aborted }
