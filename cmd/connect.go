// Copyright 2022 Google LLC
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
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"
)

// newConnectCommand builds the "connect" subcommand: a netcat-over-mTLS
// smoke test that dials a single instance and shuttles bytes between it
// and the command's stdin/stdout, grounded on the byte-copying loop the
// teacher's proxy command used to forward client connections.
func newConnectCommand(root *Command) *cobra.Command {
	return &cobra.Command{
		Use:   "connect instance_connection_name",
		Short: "Open a single mTLS connection to an instance and pipe stdin/stdout through it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnect(cmd.Context(), root, args[0])
		},
	}
}

func runConnect(ctx context.Context, root *Command, instance string) error {
	dialer, err := root.newDialer(ctx)
	if err != nil {
		return fmt.Errorf("unable to start: %v", err)
	}
	defer dialer.Close()

	conn, err := dialer.Dial(ctx, instance)
	if err != nil {
		return fmt.Errorf("[%s] failed to connect: %v", instance, err)
	}
	defer conn.Close()

	root.logger.Infof("[%s] connected", instance)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(conn, root.InOrStdin())
	}()
	go func() {
		defer wg.Done()
		io.Copy(root.OutOrStdout(), conn)
	}()
	wg.Wait()
	return nil
}
