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

// Package gcloud supplies an oauth2.TokenSource backed by the local
// `gcloud` CLI's active user credentials, for callers who want to reuse
// their gcloud login rather than a service account key or Application
// Default Credentials file discovery.
package gcloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/oauth2"
	exec "golang.org/x/sys/execabs"

	"github.com/cloudsql-connect/go-connector/internal/log"
)

// gcloudConfigData represents the data returned by `gcloud config config-helper`.
type gcloudConfigData struct {
	Configuration struct {
		Properties struct {
			Core struct {
				Project string
				Account string
			}
		}
	}
	Credential struct {
		AccessToken string    `json:"access_token"`
		TokenExpiry time.Time `json:"token_expiry"`
	}
}

func (cfg *gcloudConfigData) oauthToken() *oauth2.Token {
	return &oauth2.Token{
		AccessToken: cfg.Credential.AccessToken,
		Expiry:      cfg.Credential.TokenExpiry,
	}
}

// StatusCode classifies why a gcloud invocation failed.
type StatusCode int

const (
	StatusOK StatusCode = iota
	StatusNotFound
	// StatusExecErr covers any execution failure not specified above.
	StatusExecErr
)

// Error wraps a failure to invoke or parse gcloud's output.
type Error struct {
	Err    error
	Status StatusCode
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Cmd returns the gcloud command name for the host OS. It returns an error
// if gcloud is not found on PATH.
func Cmd() (string, error) {
	gcloud := "gcloud"
	if runtime.GOOS == "windows" {
		gcloud = gcloud + ".cmd"
	}
	if _, err := exec.LookPath(gcloud); err != nil {
		return "", &Error{Err: err, Status: StatusNotFound}
	}
	return gcloud, nil
}

func gcloudConfig(l log.Logger) (*gcloudConfigData, error) {
	gcloudCmd, err := Cmd()
	if err != nil {
		return nil, err
	}
	buf, errbuf := new(bytes.Buffer), new(bytes.Buffer)
	cmd := exec.Command(gcloudCmd, "--format", "json", "config", "config-helper", "--min-expiry", "1h")
	cmd.Stdout = buf
	cmd.Stderr = errbuf

	if err := cmd.Run(); err != nil {
		err = fmt.Errorf("error reading config: %v; stderr was:\n%v", err, errbuf)
		l.Errorf("gcloud config-helper failed: %v", err)
		return nil, &Error{Err: err, Status: StatusExecErr}
	}

	data := &gcloudConfigData{}
	if err := json.Unmarshal(buf.Bytes(), data); err != nil {
		l.Errorf("failed to unmarshal gcloud output: %v", err)
		return nil, &Error{Err: err, Status: StatusExecErr}
	}
	return data, nil
}

// tokenSource implements oauth2.TokenSource by shelling out to
// `gcloud config config-helper`. It is wrapped in oauth2.ReuseTokenSource
// by TokenSource so the subprocess only runs again once the cached token
// nears expiry.
type tokenSource struct {
	logger log.Logger
}

func (src *tokenSource) Token() (*oauth2.Token, error) {
	cfg, err := gcloudConfig(src.logger)
	if err != nil {
		return nil, err
	}
	return cfg.oauthToken(), nil
}

// TokenSource returns an oauth2.TokenSource backed by the gcloud CLI's
// active account. l may be nil, in which case failures are discarded
// rather than logged.
func TokenSource(ctx context.Context, l log.Logger) (oauth2.TokenSource, error) {
	if l == nil {
		l = noopLogger{}
	}
	src := &tokenSource{logger: l}
	tok, err := src.Token()
	if err != nil {
		return nil, err
	}
	return oauth2.ReuseTokenSource(tok, src), nil
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...interface{}) {}
func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Warnf(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}
