// Package provider defines the set of upstream LLM providers a gateway key
// can forward traffic to. A provider is either one of the known catalog
// entries or a free-form custom name.
package provider

import "fmt"

// ID identifies a known upstream provider.
type ID string

const (
	OpenAI     ID = "openai"
	Anthropic  ID = "anthropic"
	DeepSeek   ID = "deepseek"
	Gemini     ID = "gemini"
	OpenRouter ID = "openrouter"
	Grok       ID = "grok"
	Mistral    ID = "mistral"
	Cohere     ID = "cohere"
	Meta       ID = "meta"
	Together   ID = "together"

	// Other selects a custom provider; the caller supplies the name.
	Other ID = "other"
)

var displayNames = map[ID]string{
	OpenAI:     "OpenAI",
	Anthropic:  "Anthropic",
	DeepSeek:   "DeepSeek",
	Gemini:     "Google Gemini",
	OpenRouter: "OpenRouter",
	Grok:       "Grok (xAI)",
	Mistral:    "Mistral AI",
	Cohere:     "Cohere",
	Meta:       "Meta AI",
	Together:   "Together AI",
	Other:      "Other",
}

// Provider is a tagged variant: a known catalog entry, or a custom name when
// the user picked "other". The zero value is not valid; construct via Parse.
type Provider struct {
	id     ID
	custom string
}

// Parse validates a provider id from the API and resolves the "other"
// variant. customName is only consulted when id is Other; an empty custom
// name falls back to the generic "Other" label, matching the dashboard.
func Parse(id string, customName string) (Provider, error) {
	pid := ID(id)
	if _, ok := displayNames[pid]; !ok {
		return Provider{}, fmt.Errorf("unknown provider %q", id)
	}
	if pid == Other {
		name := customName
		if name == "" {
			name = "Other"
		}
		return Provider{id: Other, custom: name}, nil
	}
	return Provider{id: pid}, nil
}

// FromStored reconstructs a Provider from its persisted string form. Stored
// values that are not catalog ids are custom providers.
func FromStored(stored string) Provider {
	pid := ID(stored)
	if _, ok := displayNames[pid]; ok && pid != Other {
		return Provider{id: pid}
	}
	return Provider{id: Other, custom: stored}
}

// IsCustom reports whether this is a free-form provider.
func (p Provider) IsCustom() bool { return p.id == Other }

// Stored returns the string persisted in the record store and pushed to the
// remote gateway: the catalog id, or the custom name for "other".
func (p Provider) Stored() string {
	if p.id == Other {
		return p.custom
	}
	return string(p.id)
}

// DisplayName returns the human-readable provider name for the dashboard.
func (p Provider) DisplayName() string {
	if p.id == Other {
		return p.custom
	}
	return displayNames[p.id]
}
