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

package api

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/jerry-enebeli/labsync"
	"github.com/jerry-enebeli/labsync/api/middleware"
	"github.com/jerry-enebeli/labsync/config"
	"github.com/jerry-enebeli/labsync/internal/metrics"
)

type Api struct {
	labs   *labsync.LabSync
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.GET("/health", a.Health)
	router.GET("/stats", a.GetStats)
	router.GET("/samples/:id", a.GetSample)
	router.GET("/lease", a.GetLease)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	return a.router
}

func NewAPI(l *labsync.LabSync) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(conf.SourceTag))
	r.Use(middleware.RateLimit(conf.RateLimit))
	if conf.Server.Secure {
		r.Use(middleware.RequireKey(conf.Server.SecretKey))
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{labs: l, router: r}
}
