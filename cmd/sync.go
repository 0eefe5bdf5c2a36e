/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// initCommands prepares staging on a fresh install: schema, then the historical
// archive. The first reconciliation happens on the first sync.
func initCommands(app *labsyncInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "create the staging db and archive records older than the init lookback",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.connect(); err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			return app.labs.InitStaging(ctx, app.staging.Conn)
		},
	}
}

func syncCommands(app *labsyncInstance) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "run one extract/sync task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.connect(); err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			if force {
				return app.labs.RunSync(ctx)
			}
			if !app.labs.RunSingleton(ctx) {
				logrus.Info("another extract/sync task is running")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "run without taking the task lease")
	return cmd
}

func daemonCommands(app *labsyncInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "run the extract/sync task at the scheduled times of day",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.connect(); err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			return app.labs.RunDaemon(ctx)
		},
	}
}
