// Package secrets fetches exchange API credentials at invocation start.
// Credentials live only for the duration of one run and are never logged
// or persisted.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Credentials is the exchange API key pair.
type Credentials struct {
	APIKey    string
	APISecret string
}

// Provider fetches credentials fresh for each invocation.
type Provider interface {
	Fetch(ctx context.Context) (Credentials, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context) (Credentials, error)

// Fetch calls f.
func (f ProviderFunc) Fetch(ctx context.Context) (Credentials, error) { return f(ctx) }

// secretPayload accepts both the current {apiKey, apiSecret} shape and
// the legacy parameter layout with spaced key names.
type secretPayload struct {
	APIKey          string `json:"apiKey"`
	APISecret       string `json:"apiSecret"`
	LegacyAPIKey    string `json:"API key"`
	LegacyAPISecret string `json:"API Secret"`
}

// ParseCredentials decodes the secret store JSON value. Error messages
// never include the payload.
func ParseCredentials(raw []byte) (Credentials, error) {
	var payload secretPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Credentials{}, fmt.Errorf("secrets: malformed secret value")
	}
	creds := Credentials{APIKey: payload.APIKey, APISecret: payload.APISecret}
	if creds.APIKey == "" {
		creds.APIKey = payload.LegacyAPIKey
	}
	if creds.APISecret == "" {
		creds.APISecret = payload.LegacyAPISecret
	}
	if strings.TrimSpace(creds.APIKey) == "" || strings.TrimSpace(creds.APISecret) == "" {
		return Credentials{}, fmt.Errorf("secrets: secret value missing apiKey or apiSecret")
	}
	return creds, nil
}

// Env reads credentials from process environment variables. The local
// runner bootstraps these from a .env file.
type Env struct {
	KeyVar    string
	SecretVar string
}

// NewEnv returns an Env provider with default variable names.
func NewEnv() Env {
	return Env{KeyVar: "EXCHANGE_API_KEY", SecretVar: "EXCHANGE_API_SECRET"}
}

// Fetch reads the configured environment variables.
func (e Env) Fetch(_ context.Context) (Credentials, error) {
	creds := Credentials{
		APIKey:    os.Getenv(e.KeyVar),
		APISecret: os.Getenv(e.SecretVar),
	}
	if creds.APIKey == "" || creds.APISecret == "" {
		return Credentials{}, fmt.Errorf("secrets: %s or %s not set", e.KeyVar, e.SecretVar)
	}
	return creds, nil
}
