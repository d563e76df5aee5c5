/*
Copyright 2025 Silo Authors.

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

	"github.com/silohq/silo"
	"github.com/silohq/silo/api/middleware"
	"github.com/silohq/silo/config"
)

type Api struct {
	silo   *silo.Silo
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/v1/jobs", a.StartJob)
	router.GET("/v1/jobs/:id", a.GetJob)
	router.GET("/v1/jobs/:id/report", a.GetReport)

	router.POST("/v1/webhooks/:source", a.ReceiveWebhook)
	return a.router
}

func NewAPI(s *silo.Silo) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.SecretKey != "" {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{silo: s, router: r}
}
