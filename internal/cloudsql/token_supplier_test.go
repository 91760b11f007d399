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

package cloudsql_test

import (
	"context"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/cloudsql-connect/go-connector/internal/cloudsql"
)

func TestOAuth2TokenSupplier(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok-123", Expiry: exp})
	supplier := cloudsql.NewOAuth2TokenSupplier(src)

	got, err := supplier.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() returned error: %v", err)
	}
	if got.Value != "tok-123" {
		t.Errorf("Value = %q, want %q", got.Value, "tok-123")
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, exp)
	}
}

func TestOAuth2TokenSupplierNoExpiry(t *testing.T) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok-123"})
	supplier := cloudsql.NewOAuth2TokenSupplier(src)

	got, err := supplier.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() returned error: %v", err)
	}
	if got.ExpiresAt != nil {
		t.Errorf("ExpiresAt = %v, want nil", got.ExpiresAt)
	}
}

func TestNoopTokenSupplier(t *testing.T) {
	supplier := cloudsql.NoopTokenSupplier()
	got, err := supplier.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() returned error: %v", err)
	}
	if got != nil {
		t.Errorf("Token() = %v, want nil", got)
	}
}
