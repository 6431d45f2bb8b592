//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package auth defines the credential model exchanged when a tool asks the
// user for authentication, and the store that keeps the resulting credentials.
package auth

import (
	"context"
	"errors"
)

// Credential types.
const (
	TypeAPIKey = "apiKey"
	TypeHTTP   = "http"
	TypeOAuth2 = "oauth2"
)

// ErrCredentialNotFound is returned by stores that have nothing under a key.
var ErrCredentialNotFound = errors.New("auth: credential not found")

// OAuth2 holds the fields of an OAuth2 exchange.
type OAuth2 struct {
	ClientID     string   `json:"client_id,omitempty"`
	ClientSecret string   `json:"client_secret,omitempty"`
	AuthURI      string   `json:"auth_uri,omitempty"`
	State        string   `json:"state,omitempty"`
	RedirectURI  string   `json:"redirect_uri,omitempty"`
	AuthCode     string   `json:"auth_code,omitempty"`
	AccessToken  string   `json:"access_token,omitempty"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	ExpiresAt    int64    `json:"expires_at,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

// HTTP holds a bearer or basic credential.
type HTTP struct {
	Scheme   string `json:"scheme,omitempty"`
	Token    string `json:"token,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Credential is a raw or exchanged credential.
type Credential struct {
	Type   string  `json:"auth_type"`
	APIKey string  `json:"api_key,omitempty"`
	HTTP   *HTTP   `json:"http,omitempty"`
	OAuth2 *OAuth2 `json:"oauth2,omitempty"`
}

// Config is what a tool requests and what the client sends back once the
// user has authenticated.
type Config struct {
	// Scheme names the security scheme, e.g. "oauth2".
	Scheme string `json:"auth_scheme"`
	// RawCredential is the client credential configured on the tool.
	RawCredential *Credential `json:"raw_auth_credential,omitempty"`
	// ExchangedCredential is filled by the client after the user flow.
	ExchangedCredential *Credential `json:"exchanged_auth_credential,omitempty"`
	// CredentialKey identifies the credential in the store.
	CredentialKey string `json:"credential_key,omitempty"`
}

// Validate checks that a returned config can be stored.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("auth: nil config")
	}
	if c.CredentialKey == "" {
		return errors.New("auth: credential key is required")
	}
	if c.ExchangedCredential == nil && c.RawCredential == nil {
		return errors.New("auth: config carries no credential")
	}
	return nil
}

// Scope identifies whose credential is stored.
type Scope struct {
	AppName string
	UserID  string
}

// CredentialService persists credentials per app and user.
type CredentialService interface {
	SaveCredential(ctx context.Context, scope Scope, cfg *Config) error
	// LoadCredential returns ErrCredentialNotFound when nothing is stored.
	LoadCredential(ctx context.Context, scope Scope, cfg *Config) (*Credential, error)
}
