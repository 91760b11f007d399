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
	"strings"

	"golang.org/x/oauth2"
)

// TokenSupplier yields an optional bearer token for IAM database
// authentication. A nil *AccessToken means "no token available," which is
// only valid in PASSWORD auth mode.
type TokenSupplier interface {
	Token(ctx context.Context) (*AccessToken, error)
}

// oauth2TokenSupplier adapts an oauth2.TokenSource to TokenSupplier.
type oauth2TokenSupplier struct {
	src oauth2.TokenSource
}

// NewOAuth2TokenSupplier wraps an oauth2.TokenSource as a TokenSupplier.
func NewOAuth2TokenSupplier(src oauth2.TokenSource) TokenSupplier {
	return &oauth2TokenSupplier{src: src}
}

func (s *oauth2TokenSupplier) Token(ctx context.Context) (*AccessToken, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	at := &AccessToken{Value: tok.AccessToken}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry
		at.ExpiresAt = &exp
	}
	return at, nil
}

// NoopTokenSupplier always returns no token. It models PASSWORD auth mode,
// where the ephemeral-cert request must omit an access token.
type noopTokenSupplier struct{}

func (noopTokenSupplier) Token(context.Context) (*AccessToken, error) { return nil, nil }

// NoopTokenSupplier returns a TokenSupplier that never supplies a token.
func NoopTokenSupplier() TokenSupplier { return noopTokenSupplier{} }

// trimTrailingDots strips trailing '.' characters from a token value. The
// Admin API has historically mis-parsed tokens with trailing dots; this is
// a workaround for that bug and must remain until Google explicitly
// removes the need for it.
func trimTrailingDots(token string) string {
	return strings.TrimRight(token, ".")
}
