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
	"log"
	"net/http"
	"path/filepath"

	"github.com/caddyserver/certmagic"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/jerry-enebeli/labsync/api"
	"github.com/jerry-enebeli/labsync/config"
	trace "github.com/jerry-enebeli/labsync/internal/traces"
)

/*
serveTLS starts an HTTPS server with TLS enabled using CertMagic for automatic certificate management.
Certificates are kept next to the staging db. If no domain is specified, the server
will default to running on localhost.
*/
func serveTLS(r *gin.Engine, conf config.ServerConfig, storage string) error {
	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = conf.Email
	cfg := certmagic.NewDefault()
	cfg.Storage = &certmagic.FileStorage{Path: storage}

	domains := []string{conf.Domain}
	if conf.Domain == "" {
		log.Println("No domain specified, defaulting to localhost")
		domains = []string{"localhost"}
	}

	if err := cfg.ManageSync(context.Background(), domains); err != nil {
		return err
	}

	server := &http.Server{
		Addr:      ":" + conf.Port,
		Handler:   r,
		TLSConfig: cfg.TLSConfig(),
	}

	log.Printf("Starting HTTPS server on %s\n", conf.Port)
	if err := server.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func initializeTracing(ctx context.Context, cfg *config.Configuration) (func(context.Context) error, error) {
	shutdown, err := trace.SetupOTelSDK(ctx, "labsync", cfg.Version, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("error setting up OTel SDK: %v", err)
	}
	return shutdown, nil
}

func startServer(router *gin.Engine, cfg *config.Configuration) error {
	if cfg.Server.SSL {
		return serveTLS(router, cfg.Server, filepath.Join(filepath.Dir(cfg.Staging.Path), "certmagic"))
	}
	log.Printf("Starting server on http://localhost:%s", cfg.Server.Port)
	return router.Run(":" + cfg.Server.Port)
}

// serverCommands returns the command that serves the status API.
func serverCommands(app *labsyncInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "serve the labsync status api",
		Run: func(cmd *cobra.Command, args []string) {
			if err := app.connect(); err != nil {
				log.Fatal(err)
			}

			if err := startServer(api.NewAPI(app.labs).Router(), app.cnf); err != nil {
				log.Fatal(err)
			}
		},
	}

	return cmd
}
