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

package cloudsql

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/cloudsql-connect/go-connector/errtype"
	"github.com/cloudsql-connect/go-connector/internal/cloudsql/adminapi"
	"github.com/cloudsql-connect/go-connector/internal/cloudsql/trace"
	"github.com/cloudsql-connect/go-connector/internal/log"
)

// Repository is the Connection Info Repository: it turns an instance name,
// a key pair, a token supplier, and an auth mode into a ConnectionInfo by
// fetching instance metadata and an ephemeral certificate from the Admin
// API and assembling TLS material from the results.
//
// A Repository performs no caching of its own. Every call to
// ConnectionInfo fans out a fresh metadata fetch and a fresh certificate
// request; the rate limiter only protects the Admin API from being hammered
// by a caller that refreshes too aggressively, it does not serve stale
// results.
type Repository struct {
	client   *adminapi.Client
	key      *rsa.PrivateKey
	tokens   TokenSupplier
	authType AuthType
	logger   log.Logger
	limiter  *rate.Limiter
}

// RepositoryOption configures a Repository at construction time.
type RepositoryOption func(*Repository)

// WithLogger overrides the default no-op logger.
func WithLogger(l log.Logger) RepositoryOption {
	return func(r *Repository) { r.logger = l }
}

// WithRefreshRateLimiter overrides the default refresh rate limiter. The
// default permits one refresh every 30 seconds per Repository, with a burst
// of 2, matching the guidance that a connection's certificate is valid for
// roughly an hour and has no business being refreshed more often than that.
func WithRefreshRateLimiter(l *rate.Limiter) RepositoryOption {
	return func(r *Repository) { r.limiter = l }
}

const (
	defaultRefreshBurst = 2
	defaultRefreshEvery = 30 * time.Second
)

// NewRepository constructs a Repository for one auth mode and set of
// credentials; a single Repository serves every instance passed to
// ConnectionInfo and shares one rate limiter across them. The key pair is generated once by the caller (typically
// a Dialer) and reused across the lifetime of the Repository; minting a new
// key pair on every refresh would needlessly submit more ephemeral
// certificate requests than necessary.
func NewRepository(client *adminapi.Client, key *rsa.PrivateKey, tokens TokenSupplier, authType AuthType, opts ...RepositoryOption) *Repository {
	r := &Repository{
		client:   client,
		key:      key,
		tokens:   tokens,
		authType: authType,
		logger:   noopLogger{},
		limiter:  rate.NewLimiter(rate.Every(defaultRefreshEvery), defaultRefreshBurst),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ConnectionInfo performs one full refresh for inst: it fetches the
// instance's metadata concurrently with the access token and, once the
// token is in hand, the ephemeral certificate, then assembles the result
// into TLS material ready for a driver to use. When both the metadata
// fetch and the token/certificate chain fail, the metadata error is the
// one returned.
//
// The returned error is always either a *errtype.RefreshError or
// context.Canceled wrapped as one with Kind Cancelled.
func (r *Repository) ConnectionInfo(ctx context.Context, inst InstanceName) (ConnectionInfo, error) {
	start := time.Now()
	info, err := r.refresh(ctx, inst)
	trace.RecordRefresh(ctx, inst.String(), time.Since(start), err)
	return info, err
}

func (r *Repository) refresh(ctx context.Context, inst InstanceName) (ConnectionInfo, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return ConnectionInfo{}, cancelledOrTransient(inst, err)
	}

	// M (metadata) and the T->C chain (token, then cert) run concurrently and
	// independently of each other; S (TLS assembly) waits on both.
	// Neither branch cancels the other, so a failure in one cannot turn the
	// other's result into a spurious cancellation error.
	var (
		token   *AccessToken
		meta    InstanceMetadata
		leaf    *x509.Certificate
		metaErr error
	)
	var g errgroup.Group
	g.Go(func() error {
		m, err := fetchMetadata(ctx, r.client, inst, r.authType)
		if err != nil {
			metaErr = err
			return err
		}
		meta = m
		return nil
	})
	g.Go(func() error {
		tok, err := r.tokens.Token(ctx)
		if err != nil {
			return errtype.NewRefreshErrorKind(errtype.AuthRequired, "failed to retrieve access token", inst.String(), err)
		}
		token = tok
		if r.authType == IAMAuthType && token == nil {
			return errtype.NewRefreshErrorKind(
				errtype.AuthRequired,
				"IAM authentication requires an access token, but the configured token supplier returned none",
				inst.String(),
				nil,
			)
		}
		cert, err := fetchEphemeralCert(ctx, r.client, &r.key.PublicKey, inst, token, r.authType)
		if err != nil {
			return err
		}
		leaf = cert
		return nil
	})
	if err := g.Wait(); err != nil {
		if metaErr != nil {
			err = metaErr
		}
		return ConnectionInfo{}, cancelledOrErr(ctx, err)
	}

	tlsMaterial, err := newTLSMaterial(r.key, leaf, meta, r.authType, r.logger)
	if err != nil {
		if re, ok := err.(*errtype.RefreshError); ok && re.ConnName == "" {
			re.ConnName = inst.String()
		}
		return ConnectionInfo{}, err
	}

	return ConnectionInfo{
		Metadata:   meta,
		TLS:        tlsMaterial,
		Expiration: expiration(leaf, token, r.authType),
	}, nil
}

// expiration computes the point at which the returned ConnectionInfo must
// be replaced: the certificate's NotAfter, clamped to the access token's
// expiry when running in IAM auth mode and the token carries a known
// expiry.
func expiration(leaf *x509.Certificate, token *AccessToken, authType AuthType) time.Time {
	exp := leaf.NotAfter
	if authType == IAMAuthType && token != nil && token.ExpiresAt != nil && token.ExpiresAt.Before(exp) {
		return *token.ExpiresAt
	}
	return exp
}

func cancelledOrTransient(inst InstanceName, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errtype.NewRefreshErrorKind(errtype.Cancelled, "refresh was cancelled", inst.String(), err)
	}
	return errtype.NewRefreshError("failed to acquire refresh rate limiter", inst.String(), err)
}

func cancelledOrErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		if re, ok := err.(*errtype.RefreshError); ok {
			return &errtype.RefreshError{Kind: errtype.Cancelled, Message: re.Message, ConnName: re.ConnName, Err: re.Err}
		}
	}
	return err
}

// noopLogger discards everything. It is the default for a Repository built
// without WithLogger.
type noopLogger struct{}

func (noopLogger) Debugf(string, ...interface{}) {}
func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Warnf(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}
