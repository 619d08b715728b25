package model

// DedupeKey identifies one alert firing within a trading day.
type DedupeKey struct {
	Symbol string `json:"symbol"`
	Kind   string `json:"kind"`
	Date   string `json:"date"`
}

// TrackerState is the persisted form of the tracker store.
type TrackerState struct {
	Positions     map[string]TrackedPosition `json:"positions"`
	Fired         []DedupeKey                `json:"fired"`
	LastResetDate string                     `json:"lastResetDate"`
}

// NewTrackerState returns an empty state.
func NewTrackerState() *TrackerState {
	return &TrackerState{Positions: make(map[string]TrackedPosition)}
}
