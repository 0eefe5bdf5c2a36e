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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jerry-enebeli/labsync/internal/apierror"
)

func (a Api) Health(c *gin.Context) {
	if err := a.labs.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a Api) GetStats(c *gin.Context) {
	resp, err := a.labs.SyncStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetSample(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.labs.GetStagedSample(c.Request.Context(), id)
	if err != nil {
		msg := err.Error()
		if apiErr, ok := err.(apierror.APIError); ok {
			msg = apiErr.Message
		}
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": msg})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetLease reports whether an extract/sync run currently holds the task lease.
func (a Api) GetLease(c *gin.Context) {
	holder := a.labs.TaskLeaseHolder()
	c.JSON(http.StatusOK, gin.H{"running": holder != "", "refreshed_at": holder})
}
