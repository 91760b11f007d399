// Copyright 2022 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cloudsqlconn dials Cloud SQL instances using mutual TLS,
// without requiring a database-specific driver or SSL certificate
// management.
package cloudsqlconn

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"golang.org/x/oauth2/google"

	"github.com/cloudsql-connect/go-connector/errtype"
)

// credentialSource is the closed variant over a Config's mutually
// exclusive credential fields: at most one of credentialPath,
// credentialJSON, or credentialSupplier may be set.
type credentialSource struct {
	kind     credentialKind
	path     string
	json     []byte
	supplier func(context.Context) (*google.Credentials, error)
}

type credentialKind int

const (
	credentialNone credentialKind = iota
	credentialPath
	credentialJSON
	credentialSupplier
	credentialGcloud
)

// Config is an immutable, validated set of connector-wide settings:
// impersonation, Admin API endpoint overrides, and the credential source
// used to mint access tokens. Build one with NewConfig.
type Config struct {
	targetPrincipal  string
	delegates        []string
	adminRootURL     string
	adminServicePath string
	creds            credentialSource
}

// ConfigOption configures a Config under construction. Passing more than
// one of WithCredentialsFile, WithCredentialsJSON, or
// WithCredentialsSupplier to NewConfig is an error.
type ConfigOption func(*Config) error

// WithTargetPrincipal sets the service account to impersonate when minting
// access tokens and ephemeral certificates.
func WithTargetPrincipal(principal string) ConfigOption {
	return func(c *Config) error {
		c.targetPrincipal = principal
		return nil
	}
}

// WithDelegates sets the chain of service accounts used for delegated
// impersonation, applied in order between the caller's credentials and
// TargetPrincipal.
func WithDelegates(delegates []string) ConfigOption {
	return func(c *Config) error {
		c.delegates = append([]string(nil), delegates...)
		return nil
	}
}

// WithAdminAPIEndpoint overrides the default Cloud SQL Admin API root URL
// and base service path, for testing or regional endpoint pinning.
func WithAdminAPIEndpoint(rootURL, servicePath string) ConfigOption {
	return func(c *Config) error {
		c.adminRootURL = rootURL
		c.adminServicePath = servicePath
		return nil
	}
}

// WithCredentialsFile sets the path to a service account JSON key file as
// the credential source.
func WithCredentialsFile(path string) ConfigOption {
	return func(c *Config) error {
		if c.creds.kind != credentialNone {
			return errtype.NewConfigError("at most one credential source may be set")
		}
		c.creds = credentialSource{kind: credentialPath, path: path}
		return nil
	}
}

// WithCredentialsJSON sets a service account JSON key, read directly, as
// the credential source.
func WithCredentialsJSON(json []byte) ConfigOption {
	return func(c *Config) error {
		if c.creds.kind != credentialNone {
			return errtype.NewConfigError("at most one credential source may be set")
		}
		c.creds = credentialSource{kind: credentialJSON, json: append([]byte(nil), json...)}
		return nil
	}
}

// WithCredentialsSupplier sets a function invoked to fetch credentials on
// demand as the credential source. Two independently created suppliers are
// never considered equal, even if their behavior is identical; Equal and
// CacheKey compare suppliers by pointer identity.
func WithCredentialsSupplier(supplier func(context.Context) (*google.Credentials, error)) ConfigOption {
	return func(c *Config) error {
		if c.creds.kind != credentialNone {
			return errtype.NewConfigError("at most one credential source may be set")
		}
		c.creds = credentialSource{kind: credentialSupplier, supplier: supplier}
		return nil
	}
}

// WithGcloudAuth sets the credential source to the `gcloud` CLI's active
// user credentials, obtained via `gcloud config config-helper`. This mirrors
// the local-development login path of gcloud-authenticated tools that
// predate Application Default Credentials file discovery.
func WithGcloudAuth() ConfigOption {
	return func(c *Config) error {
		if c.creds.kind != credentialNone {
			return errtype.NewConfigError("at most one credential source may be set")
		}
		c.creds = credentialSource{kind: credentialGcloud}
		return nil
	}
}

// NewConfig builds a Config from opts. It fails with a *errtype.ConfigError
// if more than one credential source option is applied.
func NewConfig(opts ...ConfigOption) (Config, error) {
	var c Config
	for _, opt := range opts {
		if err := opt(&c); err != nil {
			return Config{}, err
		}
	}
	return c, nil
}

// Equal reports whether c and other were built from equivalent options.
// Credential suppliers compare by pointer identity, never by behavior.
func (c Config) Equal(other Config) bool {
	if c.targetPrincipal != other.targetPrincipal ||
		c.adminRootURL != other.adminRootURL ||
		c.adminServicePath != other.adminServicePath {
		return false
	}
	if len(c.delegates) != len(other.delegates) {
		return false
	}
	for i := range c.delegates {
		if c.delegates[i] != other.delegates[i] {
			return false
		}
	}
	if c.creds.kind != other.creds.kind {
		return false
	}
	switch c.creds.kind {
	case credentialPath:
		return c.creds.path == other.creds.path
	case credentialJSON:
		return string(c.creds.json) == string(other.creds.json)
	case credentialSupplier:
		return reflect.ValueOf(c.creds.supplier).Pointer() == reflect.ValueOf(other.creds.supplier).Pointer()
	case credentialGcloud:
		return true
	default:
		return true
	}
}

// CacheKey returns a stable string such that c.Equal(other) implies
// c.CacheKey() == other.CacheKey(). It is the Go-native analogue of a
// hashCode: something usable as a map key, not a general-purpose digest.
func (c Config) CacheKey() string {
	var b strings.Builder
	fmt.Fprintf(&b, "tp=%s;ar=%s;as=%s;d=%s;",
		c.targetPrincipal, c.adminRootURL, c.adminServicePath, strings.Join(c.delegates, ","))
	switch c.creds.kind {
	case credentialPath:
		fmt.Fprintf(&b, "cred=path:%s", c.creds.path)
	case credentialJSON:
		fmt.Fprintf(&b, "cred=json:%x", c.creds.json)
	case credentialSupplier:
		fmt.Fprintf(&b, "cred=supplier:%p", c.creds.supplier)
	case credentialGcloud:
		b.WriteString("cred=gcloud")
	default:
		b.WriteString("cred=none")
	}
	return b.String()
}
