// Package settings validates and applies per-conversation settings updates.
package settings

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"trichat/internal/conversation"
	"trichat/internal/llm"
)

var ErrUnknownModel = errors.New("unknown primary model")

// Provider colours used by front-ends when labelling replies.
var Colors = map[string]string{
	llm.ProviderChatGPT: "#10a37f",
	llm.ProviderGemini:  "#1a73e8",
	llm.ProviderGrok:    "#ff0000",
}

// Options describes the settings a front-end can offer.
type Options struct {
	PrimaryModels []string              `json:"primary_models"`
	Colors        map[string]string     `json:"colors"`
	Defaults      conversation.Settings `json:"defaults"`
}

func DefaultOptions() Options {
	models := make([]string, len(llm.KnownProviders))
	copy(models, llm.KnownProviders)
	colors := make(map[string]string, len(Colors))
	for k, v := range Colors {
		colors[k] = v
	}
	return Options{PrimaryModels: models, Colors: colors, Defaults: conversation.DefaultSettings()}
}

type Manager struct {
	store *conversation.Store
}

func NewManager(store *conversation.Store) *Manager {
	return &Manager{store: store}
}

// Update validates p and merges it into the conversation's settings,
// returning the merged record. Invalid patches leave settings untouched.
func (m *Manager) Update(conversationID string, p conversation.Patch) (conversation.Settings, error) {
	if p.PrimaryModel != nil && !llm.IsKnownProvider(*p.PrimaryModel) {
		return conversation.Settings{}, fmt.Errorf("%w: %q", ErrUnknownModel, *p.PrimaryModel)
	}
	s, err := m.store.MergeSettings(conversationID, p)
	if err != nil {
		return conversation.Settings{}, err
	}
	log.WithFields(log.Fields{
		"conversation": conversationID,
		"primary":      s.PrimaryModel,
		"show_all":     s.ShowAllModels,
	}).Info("settings updated")
	return s, nil
}

// Confirmation renders the message shown after a settings change.
func Confirmation(s conversation.Settings) string {
	msg := fmt.Sprintf("Settings updated: Primary model set to %s.", s.PrimaryModel)
	if s.ShowAllModels {
		msg += " All model responses will be shown."
	} else {
		msg += " Only primary model responses will be shown."
	}
	return msg
}
