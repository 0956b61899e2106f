// Package profile holds the user profile consumed at session connect
// time and the provider abstraction over its storage.
package profile

import (
	"context"

	"github.com/lmonteiro/james/pkg/knowledge"
)

// Integrations are the user-toggleable capabilities.
type Integrations struct {
	Geolocation  bool `json:"geolocation"`
	SmartGlasses bool `json:"smartGlasses"`
	OfflineMode  bool `json:"offlineMode"`
}

// Profile is the durable user configuration: the base system
// instruction, the synthesis voice, integration toggles, and the
// knowledge base accumulated from conversations and documents.
type Profile struct {
	SystemInstruction string         `json:"systemInstruction"`
	Voice             string         `json:"voiceName"`
	Integrations      Integrations   `json:"integrations"`
	Knowledge         knowledge.Base `json:"knowledgeBase"`
}

// Clone returns a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Knowledge = p.Knowledge.Clone()
	return &cp
}

// Provider yields the current profile and accepts updates. The engine
// reads it at connect time and writes back after knowledge merges.
type Provider interface {
	Current(ctx context.Context) (*Profile, error)
	Save(ctx context.Context, p *Profile) error
}

// Default returns the seed profile used when no stored profile exists.
func Default() *Profile {
	return &Profile{
		SystemInstruction: "You are James, a warm and attentive personal assistant. " +
			"Keep spoken replies short and conversational. Use what you know " +
			"about the user naturally, without reciting it back.",
		Voice:        "Zephyr",
		Integrations: Integrations{Geolocation: true},
		Knowledge:    knowledge.Base{},
	}
}
