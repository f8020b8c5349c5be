package domain

// SiteID identifies one of the fixed extraction/injection strategies.
type SiteID string

const (
	SiteWhatsApp  SiteID = "whatsapp"
	SiteMessenger SiteID = "messenger"
	SiteGeneric   SiteID = "generic"
)

// SiteIDs lists every known site in diagnostic order.
var SiteIDs = []SiteID{SiteWhatsApp, SiteMessenger, SiteGeneric}

// SiteProfile bundles the selector chains for one recognized host.
// Selector lists are ordered; earlier entries are tried first.
type SiteProfile struct {
	ID                  SiteID   `json:"id" yaml:"id"`
	ExtractionSelectors []string `json:"extractionSelectors" yaml:"extraction"`
	InjectionSelectors  []string `json:"injectionSelectors" yaml:"injection"`
}

// Clone returns a deep copy so callers cannot alias registry state.
func (p SiteProfile) Clone() SiteProfile {
	return SiteProfile{
		ID:                  p.ID,
		ExtractionSelectors: append([]string(nil), p.ExtractionSelectors...),
		InjectionSelectors:  append([]string(nil), p.InjectionSelectors...),
	}
}
