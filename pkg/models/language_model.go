package models

// Provider identifies the backend serving a model.
type Provider string

// ProviderCodeWhisperer is the only provider behind this gateway.
const ProviderCodeWhisperer Provider = "codewhisperer"

// LanguageModel describes a model the gateway can route to.
type LanguageModel struct {
	ID       string
	Name     string
	Provider Provider
	Enabled  bool
	Created  int64
}

// ToModel converts the catalogue entry to its wire form.
func (m LanguageModel) ToModel() Model {
	return Model{
		ID:      m.ID,
		Object:  ObjectModel,
		Created: m.Created,
		OwnedBy: "aws",
	}
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
