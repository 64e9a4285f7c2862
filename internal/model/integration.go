package model

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

type IntegrationKind string

const (
	IntegrationUtmify   IntegrationKind = "utmify"
	IntegrationFacebook IntegrationKind = "facebook"
)

// Integration is a vendor's conversion-tracking destination. Config shape depends on Kind.
type Integration struct {
	ID       uuid.UUID
	VendorID string
	Kind     IntegrationKind
	Active   bool
	Config   json.RawMessage
}

// Selection narrows an integration to some products and events. Empty means all.
type Selection struct {
	Products []string    `json:"products"`
	Events   []EventType `json:"events"`
}

func (s Selection) Accepts(productID string, event EventType) bool {
	if len(s.Products) > 0 && !lo.Contains(s.Products, productID) {
		return false
	}
	return len(s.Events) == 0 || lo.Contains(s.Events, event)
}

type UtmifyConfig struct {
	Selection
	APIToken string `json:"apiToken"`
}

type FacebookConfig struct {
	Selection
	PixelID       string `json:"pixelId"`
	AccessToken   string `json:"accessToken"`
	TestEventCode string `json:"testEventCode,omitempty"`
}

func (i *Integration) UtmifyConfig() (UtmifyConfig, error) {
	var cfg UtmifyConfig
	if i.Kind != IntegrationUtmify {
		return cfg, errors.Errorf("integration %s is %s, not utmify", i.ID, i.Kind)
	}
	err := json.Unmarshal(i.Config, &cfg)
	return cfg, errors.Wrap(err, "unmarshal utmify config")
}

func (i *Integration) FacebookConfig() (FacebookConfig, error) {
	var cfg FacebookConfig
	if i.Kind != IntegrationFacebook {
		return cfg, errors.Errorf("integration %s is %s, not facebook", i.ID, i.Kind)
	}
	err := json.Unmarshal(i.Config, &cfg)
	return cfg, errors.Wrap(err, "unmarshal facebook config")
}

type IntegrationResult string

const (
	IntegrationSent          IntegrationResult = "sent"
	IntegrationSkipped       IntegrationResult = "skipped"
	IntegrationNotConfigured IntegrationResult = "not_configured"
	IntegrationFailed        IntegrationResult = "failed"
)

type IntegrationOutcome struct {
	IntegrationID uuid.UUID         `json:"integrationId"`
	Kind          IntegrationKind   `json:"kind"`
	Result        IntegrationResult `json:"result"`
	StatusCode    *int              `json:"statusCode,omitempty"`
	Error         string            `json:"error,omitempty"`
}
