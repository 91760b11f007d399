// Copyright 2021 Google LLC
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

// Package cmd implements a small reference CLI that exercises the
// connector end to end: a multi-instance TCP listener modeled on the
// teacher's proxy command, plus a single-instance "connect" smoke test.
// It demonstrates the socket plumbing that internal/cloudsql treats as an
// external collaborator; it does no caching or refresh scheduling.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	ocprometheus "contrib.go.opencensus.io/exporter/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opencensus.io/stats/view"

	cloudsqlconn "github.com/cloudsql-connect/go-connector"
	"github.com/cloudsql-connect/go-connector/internal/cloudsql/trace"
	"github.com/cloudsql-connect/go-connector/internal/connection"
	"github.com/cloudsql-connect/go-connector/internal/healthcheck"
	"github.com/cloudsql-connect/go-connector/internal/log"
)

const envPrefix = "CSQL"

// conf holds every flag the root command and its subcommands accept,
// whether set on the command line, through an environment variable
// prefixed CSQL_, or via an optional --config YAML file.
type conf struct {
	Addr                string
	MaxConnections      uint64
	IAMAuthN            bool
	PrivateIP           bool
	PSC                 bool
	CredentialsFile     string
	GcloudAuth          bool
	TargetPrincipal     string
	Quiet               bool
	DebugLogs           bool
	StructuredLogs      bool
	Prometheus          bool
	PrometheusNamespace string
	HealthCheck         bool
	HealthCheckPort     string
}

// Command represents an invocation of the connect demo.
type Command struct {
	*cobra.Command
	conf             *conf
	logger           log.Logger
	dialer           *cloudsqlconn.Dialer
	connRefuseNotify func(string)
	v                *viper.Viper
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := NewCommand().Execute(); err != nil {
		exit := 1
		if terr, ok := err.(*exitError); ok {
			exit = terr.Code
		}
		os.Exit(exit)
	}
}

// NewCommand returns a Command object representing an invocation of the
// demo CLI. opts can override the logger, dialer, or connection-refusal
// behavior, primarily for tests.
func NewCommand(opts ...Option) *Command {
	c := &Command{
		conf: &conf{Addr: "127.0.0.1"},
		v:    viper.New(),
	}

	cmd := &cobra.Command{
		Use:   "cloudsql-connect instance_connection_name...",
		Short: "cloudsql-connect is a reference client for the Cloud SQL connection-info connector.",
		Long: `cloudsql-connect demonstrates the connector end to end: it listens on a
local TCP port per instance argument and forwards connections over a
mutually-TLS-authenticated channel, using ephemeral certificates minted
by the Cloud SQL Admin API. It performs no caching; every new client
connection triggers a fresh Admin API refresh.`,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.bindConfig(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errBadCommand
			}
			return runSignalWrapper(c, args)
		},
	}

	cmd.PersistentFlags().StringVarP(&c.conf.Addr, "address", "a", "127.0.0.1",
		"Address on which to bind Cloud SQL instance listeners.")
	cmd.PersistentFlags().Uint64Var(&c.conf.MaxConnections, "max-connections", 0,
		"Limit the number of simultaneous connections. Default is no limit.")
	cmd.PersistentFlags().BoolVar(&c.conf.IAMAuthN, "auto-iam-authn", false,
		"Enables IAM database authentication instead of password authentication; requires TLS 1.3.")
	cmd.PersistentFlags().BoolVar(&c.conf.PrivateIP, "private-ip", false,
		"Connect to instances using their private IP address instead of their public IP address.")
	cmd.PersistentFlags().BoolVar(&c.conf.PSC, "psc", false,
		"Connect to instances using their Private Service Connect DNS endpoint.")
	cmd.PersistentFlags().StringVar(&c.conf.CredentialsFile, "credentials-file", "",
		"Path to a service account JSON key file used to authenticate to the Admin API.")
	cmd.PersistentFlags().BoolVar(&c.conf.GcloudAuth, "gcloud-auth", false,
		"Authorize using the active gcloud CLI user credentials instead of a service account or Application Default Credentials.")
	cmd.PersistentFlags().StringVar(&c.conf.TargetPrincipal, "target-principal", "",
		"Service account to impersonate when making Admin API calls.")
	cmd.PersistentFlags().BoolVarP(&c.conf.Quiet, "quiet", "q", false,
		"Log error messages only.")
	cmd.PersistentFlags().BoolVar(&c.conf.DebugLogs, "debug-logs", false,
		"Log messages at DEBUG level.")
	cmd.PersistentFlags().BoolVar(&c.conf.StructuredLogs, "structured-logs", false,
		"Log messages as structured JSON compatible with Cloud Logging.")
	cmd.PersistentFlags().BoolVar(&c.conf.Prometheus, "prometheus", false,
		"Export refresh latency and failure metrics in Prometheus format on /metrics.")
	cmd.PersistentFlags().StringVar(&c.conf.PrometheusNamespace, "prometheus-namespace", "",
		"Prefix for exported Prometheus metric names.")
	cmd.PersistentFlags().BoolVar(&c.conf.HealthCheck, "health-check", false,
		"Enable startup/liveness/readiness HTTP endpoints, for use as a Kubernetes health probe.")
	cmd.PersistentFlags().StringVar(&c.conf.HealthCheckPort, "health-check-port", "9801",
		"Port on which the health check endpoints are served.")
	cmd.PersistentFlags().String("config", "", "Path to a YAML config file.")

	cmd.AddCommand(newConnectCommand(c))

	c.Command = cmd
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// bindConfig layers viper over the already-parsed pflag set: flags win,
// then CSQL_-prefixed environment variables, then an optional --config
// YAML file, then the flag defaults already applied above.
func (c *Command) bindConfig(cmd *cobra.Command) error {
	c.v.SetEnvPrefix(envPrefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	if cfgPath, _ := cmd.Flags().GetString("config"); cfgPath != "" {
		c.v.SetConfigFile(cfgPath)
		if err := c.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %q: %w", cfgPath, err)
		}
	}
	if err := c.v.BindPFlags(cmd.Root().PersistentFlags()); err != nil {
		return err
	}

	var bindErr error
	cmd.Root().PersistentFlags().VisitAll(func(f *pflag.Flag) {
		if bindErr != nil || f.Changed || !c.v.IsSet(f.Name) {
			return
		}
		if err := f.Value.Set(c.v.GetString(f.Name)); err != nil {
			bindErr = fmt.Errorf("failed to bind %q from environment or config file: %w", f.Name, err)
		}
	})
	if bindErr != nil {
		return bindErr
	}

	if c.logger == nil {
		switch {
		case c.conf.StructuredLogs:
			c.logger = log.NewStructuredLogger(c.conf.Quiet)
		case c.conf.Quiet:
			c.logger = log.NewStdLogger(io.Discard, cmd.ErrOrStderr())
		default:
			c.logger = log.NewStdLogger(cmd.OutOrStdout(), cmd.ErrOrStderr())
		}
	}
	return nil
}

// newDialer builds a *cloudsqlconn.Dialer from the parsed flags, honoring
// any dialer already set via WithDialer (used by tests to inject a fake).
func (c *Command) newDialer(ctx context.Context) (*cloudsqlconn.Dialer, error) {
	if c.dialer != nil {
		return c.dialer, nil
	}

	var cfgOpts []cloudsqlconn.ConfigOption
	if c.conf.TargetPrincipal != "" {
		cfgOpts = append(cfgOpts, cloudsqlconn.WithTargetPrincipal(c.conf.TargetPrincipal))
	}
	if c.conf.CredentialsFile != "" {
		cfgOpts = append(cfgOpts, cloudsqlconn.WithCredentialsFile(c.conf.CredentialsFile))
	}
	if c.conf.GcloudAuth {
		cfgOpts = append(cfgOpts, cloudsqlconn.WithGcloudAuth())
	}
	cfg, err := cloudsqlconn.NewConfig(cfgOpts...)
	if err != nil {
		return nil, err
	}

	dialerOpts := []cloudsqlconn.DialerOption{
		cloudsqlconn.WithConfig(cfg),
		cloudsqlconn.WithLogger(c.logger),
	}
	if c.conf.IAMAuthN {
		dialerOpts = append(dialerOpts, cloudsqlconn.WithIAMAuthN())
	}
	if c.conf.PrivateIP {
		dialerOpts = append(dialerOpts, cloudsqlconn.WithPrivateIP())
	}
	if c.conf.PSC {
		dialerOpts = append(dialerOpts, cloudsqlconn.WithPSC())
	}

	if c.conf.Prometheus {
		if err := c.startPrometheusExporter(); err != nil {
			return nil, fmt.Errorf("failed to start Prometheus exporter: %w", err)
		}
	}

	return cloudsqlconn.NewDialer(ctx, dialerOpts...)
}

// startPrometheusExporter registers trace.Views with OpenCensus and serves
// them on /metrics, grounded on the teacher's use of
// contrib.go.opencensus.io/exporter/prometheus for its own proxy metrics.
func (c *Command) startPrometheusExporter() error {
	if err := trace.RegisterViews(); err != nil {
		return err
	}
	exporter, err := ocprometheus.NewExporter(ocprometheus.Options{Namespace: c.conf.PrometheusNamespace})
	if err != nil {
		return err
	}
	view.RegisterExporter(exporter)

	mux := http.NewServeMux()
	mux.Handle("/metrics", exporter)
	ln, err := net.Listen("tcp", net.JoinHostPort(c.conf.Addr, "9090"))
	if err != nil {
		return err
	}
	go func() {
		_ = http.Serve(ln, mux)
	}()
	c.logger.Infof("Prometheus metrics available at %s/metrics", ln.Addr())
	return nil
}

// startHealthCheck serves check's startup, liveness, and readiness handlers
// on the configured health check port.
func (c *Command) startHealthCheck(check *healthcheck.Check) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/startup", check.HandleStartup)
	mux.HandleFunc("/liveness", check.HandleLiveness)
	mux.HandleFunc("/readiness", check.HandleReadiness)
	ln, err := net.Listen("tcp", net.JoinHostPort(c.conf.Addr, c.conf.HealthCheckPort))
	if err != nil {
		return err
	}
	go func() {
		_ = http.Serve(ln, mux)
	}()
	c.logger.Infof("health check endpoints available at %s", ln.Addr())
	return nil
}

// runSignalWrapper watches for SIGTERM and SIGINT and interrupts execution
// if necessary, then listens on one TCP socket per instance argument.
func runSignalWrapper(cmd *Command, instances []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	shutdownCh := make(chan error, 1)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		select {
		case s := <-signals:
			switch s {
			case syscall.SIGINT:
				shutdownCh <- errSigInt
			case syscall.SIGTERM:
				shutdownCh <- errSigTerm
			}
		case <-ctx.Done():
		}
	}()

	dialer, err := cmd.newDialer(ctx)
	if err != nil {
		return fmt.Errorf("unable to start: %v", err)
	}
	defer dialer.Close()

	counter := connection.NewCounter(cmd.conf.MaxConnections)

	var check *healthcheck.Check
	if cmd.conf.HealthCheck {
		check = healthcheck.NewCheck(counter, cmd.logger)
		if err := cmd.startHealthCheck(check); err != nil {
			return fmt.Errorf("failed to start health check server: %v", err)
		}
		defer check.NotifyStopped()
	}

	var listeners []net.Listener
	port := 5000
	for i, inst := range instances {
		addr := net.JoinHostPort(cmd.conf.Addr, fmt.Sprint(port+i))
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("[%s] unable to listen on %s: %v", inst, addr, err)
		}
		listeners = append(listeners, ln)
		cmd.Printf("[%s] Listening on %s\n", inst, addr)

		go func(inst string, ln net.Listener) {
			err := connection.AcceptAndHandle(ctx, ln, cmd.logger, dialer, counter, inst, cmd.connRefuseNotify)
			if err != nil && ctx.Err() == nil {
				shutdownCh <- fmt.Errorf("[%s] listener stopped: %v", inst, err)
			}
		}(inst, ln)
	}
	defer func() {
		for _, ln := range listeners {
			ln.Close()
		}
	}()

	if check != nil {
		check.NotifyStarted()
	}
	cmd.Println("The connector is ready for new connections!")

	err = <-shutdownCh
	switch {
	case errors.Is(err, errSigInt):
		cmd.PrintErrln("SIGINT signal received. Shutting down...")
	case errors.Is(err, errSigTerm):
		cmd.PrintErrln("SIGTERM signal received. Shutting down...")
	default:
		cmd.PrintErrf("the connector has encountered a terminal error: %v\n", err)
	}
	return err
}

var errBadCommand = &exitError{
	Err:  errors.New("missing instance connection name(s)"),
	Code: 1,
}
