// Package site maps a document host to the selector chains used to read and
// write that site's conversation.
package site

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"chataide/internal/domain"

	"gopkg.in/yaml.v3"
)

// hostRule binds host fragments to a site. Rules are checked in order.
type hostRule struct {
	fragments []string
	site      domain.SiteID
}

var hostRules = []hostRule{
	{[]string{"web.whatsapp.com"}, domain.SiteWhatsApp},
	{[]string{"messenger.com", "facebook.com"}, domain.SiteMessenger},
}

// WhatsAppProfile returns the default selectors for WhatsApp Web.
func WhatsAppProfile() domain.SiteProfile {
	return domain.SiteProfile{
		ID: domain.SiteWhatsApp,
		ExtractionSelectors: []string{
			"span.selectable-text",
			"div.copyable-text",
			`[data-testid^="msg-"]`,
			".message-in",
			".message-out",
		},
		InjectionSelectors: []string{
			`div[contenteditable="true"]`,
			"textarea",
		},
	}
}

// MessengerProfile returns the default selectors for Messenger and Facebook.
func MessengerProfile() domain.SiteProfile {
	return domain.SiteProfile{
		ID: domain.SiteMessenger,
		ExtractionSelectors: []string{
			`[data-testid="message-text"]`,
			`[data-testid^="msg"]`,
		},
		InjectionSelectors: []string{
			`div[role="textbox"][contenteditable="true"]`,
			`div[contenteditable="true"]`,
			"textarea",
		},
	}
}

// GenericProfile returns the broad fallback selectors, broadest last.
func GenericProfile() domain.SiteProfile {
	return domain.SiteProfile{
		ID:                  domain.SiteGeneric,
		ExtractionSelectors: []string{"div", "span", "p"},
		InjectionSelectors: []string{
			`div[contenteditable="true"]`,
			"textarea",
			`input[type="text"]`,
		},
	}
}

// Registry resolves hosts to site profiles. It is safe for concurrent reads;
// profiles are copied on the way out.
type Registry struct {
	profiles map[domain.SiteID]domain.SiteProfile
}

// NewRegistry returns a registry holding the built-in profiles.
func NewRegistry() *Registry {
	r := &Registry{profiles: make(map[domain.SiteID]domain.SiteProfile, 3)}
	for _, p := range []domain.SiteProfile{WhatsAppProfile(), MessengerProfile(), GenericProfile()} {
		r.profiles[p.ID] = p
	}
	return r
}

// Detect maps a host to a site id. Unknown hosts are generic.
func Detect(host string) domain.SiteID {
	host = strings.ToLower(host)
	for _, rule := range hostRules {
		for _, frag := range rule.fragments {
			if strings.Contains(host, frag) {
				return rule.site
			}
		}
	}
	return domain.SiteGeneric
}

// Resolve returns the profile for a host. It never fails.
func (r *Registry) Resolve(host string) domain.SiteProfile {
	return r.Profile(Detect(host))
}

// Profile returns the profile for a site id, or the generic profile.
func (r *Registry) Profile(id domain.SiteID) domain.SiteProfile {
	if p, ok := r.profiles[id]; ok {
		return p.Clone()
	}
	return r.profiles[domain.SiteGeneric].Clone()
}

// overrideFile is the on-disk shape of a selector override file:
//
//	sites:
//	  whatsapp:
//	    extraction: ["span.selectable-text"]
//	    injection: ["footer div[contenteditable=\"true\"]"]
type overrideFile struct {
	Sites map[string]struct {
		Extraction []string `yaml:"extraction"`
		Injection  []string `yaml:"injection"`
	} `yaml:"sites"`
}

// LoadOverrides replaces selector chains from a YAML file. Empty lists keep
// the built-in chain; unknown site names are skipped with a warning.
// A missing file is not an error.
func (r *Registry) LoadOverrides(path string, logger *slog.Logger) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Debug("site overrides file does not exist, skipping", "path", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read site overrides: %w", err)
	}

	var f overrideFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse site overrides %s: %w", path, err)
	}

	for name, o := range f.Sites {
		id := domain.SiteID(strings.ToLower(name))
		p, ok := r.profiles[id]
		if !ok {
			logger.Warn("unknown site in overrides, skipping", "site", name, "path", path)
			continue
		}
		if len(o.Extraction) > 0 {
			p.ExtractionSelectors = append([]string(nil), o.Extraction...)
		}
		if len(o.Injection) > 0 {
			p.InjectionSelectors = append([]string(nil), o.Injection...)
		}
		r.profiles[id] = p
		logger.Info("loaded site overrides", "site", id,
			"extraction", len(p.ExtractionSelectors), "injection", len(p.InjectionSelectors))
	}
	return nil
}
