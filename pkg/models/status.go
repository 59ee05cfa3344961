package models

// CrawlState is a step of the crawl state machine
type CrawlState string

const (
	StateIdle           CrawlState = "idle"
	StateFetchingRoot   CrawlState = "fetching_root"
	StateRewriting      CrawlState = "rewriting"
	StateFetchingAssets CrawlState = "fetching_assets"
	StatePersisting     CrawlState = "persisting"
	StateDone           CrawlState = "done"
	StateFailed         CrawlState = "failed"
)

// String implements fmt.Stringer for logging
func (s CrawlState) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsTerminal returns true for Done and Failed
func (s CrawlState) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// transitions lists the forward edges of the machine; any non-terminal state may also fail.
// In site mode, child pages are fetched inside FetchingAssets alongside the root's assets.
var transitions = map[CrawlState][]CrawlState{
	StateIdle:           {StateFetchingRoot},
	StateFetchingRoot:   {StateRewriting, StatePersisting}, // Persisting directly when assets are disabled
	StateRewriting:      {StateFetchingAssets},
	StateFetchingAssets: {StatePersisting},
	StatePersisting:     {StateDone},
}

// CanTransition reports whether the machine may move from one state to another
func CanTransition(from, to CrawlState) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
