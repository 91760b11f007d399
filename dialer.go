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

package cloudsqlconn

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sqladmin/v1beta4"

	"github.com/cloudsql-connect/go-connector/internal/cloudsql"
	"github.com/cloudsql-connect/go-connector/internal/cloudsql/adminapi"
	"github.com/cloudsql-connect/go-connector/internal/gcloud"
	"github.com/cloudsql-connect/go-connector/internal/log"
)

const keyBits = 2048

// Dialer dials Cloud SQL instances. It holds one Connection Info
// Repository shared across every instance it dials, and the RSA key pair
// submitted with every ephemeral certificate request.
//
// A Dialer is a literal reference implementation of the socket factory
// this module's core treats as an external collaborator: every Dial
// performs a full, uncached refresh against the Admin API. A production
// dialer would cache ConnectionInfo per instance and refresh it ahead of
// expiration in the background; this one intentionally does not, to keep
// the demonstration small and the core's contract unambiguous.
type Dialer struct {
	id     string
	repo   *cloudsql.Repository
	ipType cloudsql.IPType
	logger log.Logger

	keyOnce sync.Once
	key     *rsa.PrivateKey
	keyErr  error
}

// NewDialer constructs a Dialer from opts. It resolves credentials (from
// the attached Config, or Application Default Credentials if none was
// given) and constructs the underlying Admin API client and Repository.
// The RSA key pair used for every ephemeral certificate request is
// generated once, here, at construction time.
func NewDialer(ctx context.Context, opts ...DialerOption) (*Dialer, error) {
	settings := &dialerSettings{
		authType: cloudsql.PasswordAuthType,
		logger:   noopLogger{},
		ipType:   cloudsql.PublicIP,
	}
	for _, opt := range opts {
		opt(settings)
	}

	clientOpts, tokenSource, err := resolveCredentials(ctx, settings.config, settings.logger)
	if err != nil {
		return nil, fmt.Errorf("cloudsqlconn: failed to resolve credentials: %w", err)
	}
	if settings.config.adminRootURL != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(settings.config.adminRootURL+settings.config.adminServicePath))
	}

	client, err := adminapi.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("cloudsqlconn: failed to create Admin API client: %w", err)
	}

	tokens := settings.tokens
	if tokens == nil {
		if settings.authType == cloudsql.IAMAuthType {
			tokens = cloudsql.NewOAuth2TokenSupplier(tokenSource)
		} else {
			tokens = cloudsql.NoopTokenSupplier()
		}
	}

	d := &Dialer{
		id:     uuid.NewString(),
		ipType: settings.ipType,
		logger: settings.logger,
	}

	var repoOpts []cloudsql.RepositoryOption
	repoOpts = append(repoOpts, cloudsql.WithLogger(settings.logger))
	if settings.refreshLimiter != nil {
		repoOpts = append(repoOpts, cloudsql.WithRefreshRateLimiter(settings.refreshLimiter))
	}

	if err := d.ensureKey(); err != nil {
		return nil, err
	}
	d.repo = cloudsql.NewRepository(client, d.key, tokens, settings.authType, repoOpts...)

	return d, nil
}

// resolveCredentials turns a Config's credential source into Admin API
// client options and, separately, an oauth2.TokenSource suitable for
// minting IAM database-authentication tokens. With no credential source
// configured, it falls back to Application Default Credentials.
func resolveCredentials(ctx context.Context, cfg Config, logger log.Logger) ([]option.ClientOption, oauth2.TokenSource, error) {
	scopes := []string{sqladmin.SqlserviceAdminScope}

	switch cfg.creds.kind {
	case credentialGcloud:
		ts, err := gcloud.TokenSource(ctx, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get gcloud credentials: %w", err)
		}
		return []option.ClientOption{option.WithTokenSource(ts), option.WithScopes(scopes...)}, ts, nil
	case credentialPath:
		raw, err := os.ReadFile(cfg.creds.path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read credentials file %q: %w", cfg.creds.path, err)
		}
		creds, err := google.CredentialsFromJSON(ctx, raw, scopes...)
		if err != nil {
			return nil, nil, err
		}
		return []option.ClientOption{option.WithCredentials(creds)}, creds.TokenSource, nil
	case credentialJSON:
		creds, err := google.CredentialsFromJSON(ctx, cfg.creds.json, scopes...)
		if err != nil {
			return nil, nil, err
		}
		return []option.ClientOption{option.WithCredentials(creds)}, creds.TokenSource, nil
	case credentialSupplier:
		creds, err := cfg.creds.supplier(ctx)
		if err != nil {
			return nil, nil, err
		}
		return []option.ClientOption{option.WithCredentials(creds)}, creds.TokenSource, nil
	default:
		creds, err := google.FindDefaultCredentials(ctx, scopes...)
		if err != nil {
			return nil, nil, err
		}
		return []option.ClientOption{option.WithCredentials(creds)}, creds.TokenSource, nil
	}
}

func (d *Dialer) ensureKey() error {
	d.keyOnce.Do(func() {
		d.key, d.keyErr = rsa.GenerateKey(rand.Reader, keyBits)
	})
	return d.keyErr
}

// Dial returns a TLS connection to the given "project:region:instance",
// authenticated with the Dialer's key pair and an ephemeral certificate
// freshly minted for this call.
func (d *Dialer) Dial(ctx context.Context, instanceConnName string, _ ...DialOption) (net.Conn, error) {
	inst, err := cloudsql.ParseInstanceName(instanceConnName)
	if err != nil {
		return nil, err
	}
	d.logger.Debugf("[dialer %s] refreshing connection info for %s", d.id, instanceConnName)

	info, err := d.repo.ConnectionInfo(ctx, inst)
	if err != nil {
		return nil, err
	}

	addr, ok := info.Addr(d.ipType)
	if !ok {
		return nil, fmt.Errorf("cloudsqlconn: instance %s has no %s IP address", instanceConnName, d.ipType)
	}

	var dialer net.Dialer
	rawConn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(addr, "3307"))
	if err != nil {
		return nil, fmt.Errorf("cloudsqlconn: failed to dial %s: %w", instanceConnName, err)
	}

	tlsConn := tls.Client(rawConn, info.TLS.TLSConfig())
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("cloudsqlconn: TLS handshake with %s failed: %w", instanceConnName, err)
	}
	return tlsConn, nil
}

// Close releases the Dialer's resources. A Dialer must not be used after
// Close returns.
func (d *Dialer) Close() error {
	return nil
}

// ID returns the Dialer's unique identifier, useful for correlating log
// lines across multiple Dialer instances in the same process.
func (d *Dialer) ID() string {
	return d.id
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...interface{}) {}
func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Warnf(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}
