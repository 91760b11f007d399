// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	cloudsqlconn "github.com/cloudsql-connect/go-connector"
	"github.com/cloudsql-connect/go-connector/internal/log"
)

// Option is a function that configures a Command.
type Option func(*Command)

// WithLogger overrides the default logger.
func WithLogger(l log.Logger) Option {
	return func(c *Command) {
		c.logger = l
	}
}

// WithDialer configures the Command to use the provided dialer to connect to
// Cloud SQL instances, instead of building one from flags.
func WithDialer(d *cloudsqlconn.Dialer) Option {
	return func(c *Command) {
		c.dialer = d
	}
}

// WithMaxConnections sets the maximum allowed number of connections. Default
// is no limit.
func WithMaxConnections(max uint64) Option {
	return func(c *Command) {
		c.conf.MaxConnections = max
	}
}

// WithQuietLogging configures the demo to log error messages only.
func WithQuietLogging() Option {
	return func(c *Command) {
		c.conf.Quiet = true
	}
}

// WithDebugLogging configures the demo to log debug level messages.
func WithDebugLogging() Option {
	return func(c *Command) {
		c.conf.DebugLogs = true
	}
}

// WithConnRefuseNotify configures the demo to run the given notify callback
// in the event of a connection refusal (e.g. because max connections was
// reached).
func WithConnRefuseNotify(n func(string)) Option {
	return func(c *Command) {
		c.connRefuseNotify = n
	}
}
