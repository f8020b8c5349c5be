package domain

// Strategy names one technique for writing text into an editable control.
type Strategy string

const (
	StrategyNativeInsert   Strategy = "native-insert"
	StrategyContentReplace Strategy = "content-replace"
	StrategyRangeSplice    Strategy = "range-splice"
	StrategyValueAssign    Strategy = "value-assign"
)

// InjectionAttempt records one strategy tried during a single injection call.
type InjectionAttempt struct {
	Strategy  Strategy `json:"strategy"`
	Succeeded bool     `json:"succeeded"`
	Observed  *string  `json:"observed"` // nil when read-back was impossible
	Detail    string   `json:"detail,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// InjectionResult is the outcome of writing a reply into the page.
type InjectionResult struct {
	Success bool               `json:"success"`
	Site    SiteID             `json:"site"`
	Target  string             `json:"target,omitempty"` // how the input was chosen
	URL     string             `json:"url,omitempty"`
	Log     []InjectionAttempt `json:"log"`
	Final   string             `json:"final,omitempty"` // last observed content
	Error   string             `json:"error,omitempty"`
}

// ExtractDiagnostics explains how an extraction reached its result.
type ExtractDiagnostics struct {
	Site           SiteID         `json:"site"`
	URL            string         `json:"url,omitempty"`
	SelectorCounts map[SiteID]int `json:"selectorCounts"`  // visible candidates per chain
	Chain          SiteID         `json:"chain,omitempty"` // chain that produced the messages
	Fallback       bool           `json:"fallback"`
	MessageCount   int            `json:"messageCount"`
	Sample         []string       `json:"sample,omitempty"`
}

// ExtractResult pairs an extraction outcome with its diagnostics.
type ExtractResult struct {
	Conversation Conversation       `json:"conversation"`
	Diagnostics  ExtractDiagnostics `json:"diagnostics"`
}
