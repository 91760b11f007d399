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
	"golang.org/x/time/rate"

	"github.com/cloudsql-connect/go-connector/internal/cloudsql"
	"github.com/cloudsql-connect/go-connector/internal/log"
)

// dialerSettings collects the options a Dialer is built with.
type dialerSettings struct {
	config         Config
	authType       cloudsql.AuthType
	tokens         cloudsql.TokenSupplier
	logger         log.Logger
	refreshLimiter *rate.Limiter
	ipType         cloudsql.IPType
}

// DialerOption configures a Dialer at construction time.
type DialerOption func(*dialerSettings)

// WithConfig attaches a validated Config to the Dialer.
func WithConfig(cfg Config) DialerOption {
	return func(s *dialerSettings) { s.config = cfg }
}

// WithIAMAuthN configures the Dialer to authenticate to the database with
// the caller's Google identity rather than a password. This requires the
// target instance to support IAM database authentication and TLS 1.3.
func WithIAMAuthN() DialerOption {
	return func(s *dialerSettings) { s.authType = cloudsql.IAMAuthType }
}

// WithTokenSupplier overrides the Dialer's access token source. By default
// a Dialer built with WithIAMAuthN uses the token source of the credentials
// resolved from its Config (Application Default Credentials when the Config
// sets no credential source).
func WithTokenSupplier(tokens cloudsql.TokenSupplier) DialerOption {
	return func(s *dialerSettings) { s.tokens = tokens }
}

// WithLogger sets the Logger the Dialer and its underlying Repository log
// through. The default discards everything.
func WithLogger(l log.Logger) DialerOption {
	return func(s *dialerSettings) { s.logger = l }
}

// WithRefreshRateLimiter overrides the default refresh rate limit applied
// before each Dial triggers a new orchestration. The limiter belongs to the
// Dialer as a whole and is shared by every instance it dials.
func WithRefreshRateLimiter(l *rate.Limiter) DialerOption {
	return func(s *dialerSettings) { s.refreshLimiter = l }
}

// WithPrivateIP causes Dial to connect to the instance's private IP address
// instead of its public one.
func WithPrivateIP() DialerOption {
	return func(s *dialerSettings) { s.ipType = cloudsql.PrivateIP }
}

// WithPSC causes Dial to connect through the instance's Private Service
// Connect DNS endpoint.
func WithPSC() DialerOption {
	return func(s *dialerSettings) { s.ipType = cloudsql.PSCIP }
}

// DialOption configures a single Dial call. None are defined yet; the type
// exists so Dial's signature does not need to change when per-dial
// overrides (e.g. a dial timeout) are added.
type DialOption func(*dialerSettings)
