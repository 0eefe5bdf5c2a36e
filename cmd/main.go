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
	"fmt"
	"io"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jerry-enebeli/labsync"
	"github.com/jerry-enebeli/labsync/config"
	"github.com/jerry-enebeli/labsync/database"
	"github.com/jerry-enebeli/labsync/datasources"
	"github.com/jerry-enebeli/labsync/internal/logging"
	"github.com/jerry-enebeli/labsync/internal/notification"
)

// LabSyncCLI represents the CLI application, encapsulating the root Cobra command.
type LabSyncCLI struct {
	cmd *cobra.Command
}

// labsyncInstance holds the runtime objects shared by the subcommands. The stores are
// opened lazily so that commands like `config` work on a host whose lab database is down.
type labsyncInstance struct {
	labs    *labsync.LabSync
	staging *database.Datasource
	source  *datasources.Relational
	cnf     *config.Configuration
	logs    io.Closer
	tracing func(context.Context) error
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and points logging at the rotating sync log.
func preRun(app *labsyncInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		app.cnf = cnf
		app.logs = logging.Setup(logging.Options{
			Path:       cnf.Log.Path,
			MaxSizeMB:  cnf.Log.MaxSizeMB,
			MaxBackups: cnf.Log.MaxBackups,
			Console:    cnf.Log.Console,
		})
		return nil
	}
}

func postRun(app *labsyncInstance) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		if app.tracing != nil {
			if err := app.tracing(context.Background()); err != nil {
				logrus.Errorf("error during trace shutdown: %v", err)
			}
		}
		if app.source != nil {
			_ = app.source.Close()
		}
		if app.logs != nil {
			_ = app.logs.Close()
		}
	}
}

// connect opens staging and the lab database and builds the LabSync instance.
func (app *labsyncInstance) connect() error {
	shutdown, err := initializeTracing(context.Background(), app.cnf)
	if err != nil {
		return err
	}
	app.tracing = shutdown

	staging, err := database.GetDBConnection(app.cnf)
	if err != nil {
		return fmt.Errorf("error opening staging db: %v", err)
	}

	source, err := datasources.NewSourceAdapter(app.cnf)
	if err != nil {
		notification.NotifyError(err)
		return fmt.Errorf("error connecting to lab db: %v", err)
	}

	labs, err := labsync.NewLabSync(staging, source)
	if err != nil {
		return fmt.Errorf("error creating labsync: %v", err)
	}

	app.staging = staging
	app.source = source
	app.labs = labs
	return nil
}

// NewCLI creates the command-line interface for labsync.
func NewCLI() *LabSyncCLI {
	var configFile string
	app := &labsyncInstance{}

	var rootCmd = &cobra.Command{
		Use:   "labsync",
		Short: "Sync lab test records to the reporting server",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./labsync.json", "Configuration file for labsync")

	rootCmd.PersistentPreRunE = preRun(app, &configFile)
	rootCmd.PersistentPostRun = postRun(app)

	rootCmd.AddCommand(initCommands(app))
	rootCmd.AddCommand(syncCommands(app))
	rootCmd.AddCommand(daemonCommands(app))
	rootCmd.AddCommand(migrateCommands(app))
	rootCmd.AddCommand(serverCommands(app))
	rootCmd.AddCommand(configCommands(app))

	return &LabSyncCLI{cmd: rootCmd}
}

func (w LabSyncCLI) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
