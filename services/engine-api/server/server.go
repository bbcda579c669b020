package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Mutter0815/DripMailer/pkg/metrics"
)

func NewHTTPServer(addr string, h *Handlers) *http.Server {
	r := gin.New()
	r.Use(gin.Recovery(), Observability())

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	{
		api.POST("/campaigns", h.CreateCampaign)
		api.GET("/campaigns", h.ListCampaigns)
		api.GET("/campaigns/:id", h.GetCampaign)
		api.PUT("/campaigns/:id", h.UpdateCampaign)
		api.DELETE("/campaigns/:id", h.DeleteCampaign)
		api.POST("/campaigns/:id/start", h.StartCampaign)
		api.POST("/campaigns/:id/pause", h.PauseCampaign)
		api.POST("/campaigns/:id/resume", h.ResumeCampaign)
		api.POST("/campaigns/:id/cancel", h.CancelCampaign)

		api.GET("/executions", h.ListExecutions)
		api.GET("/executions/:id", h.GetExecution)

		api.POST("/jobs", h.StartBulkJob)
		api.GET("/jobs/:id", h.GetBulkJob)

		api.POST("/schedule", h.ScheduleBulkJob)
		api.GET("/schedule", h.ListScheduledJobs)
		api.PUT("/schedule/:id", h.RescheduleBulkJob)
		api.DELETE("/schedule/:id", h.CancelScheduledBulkJob)
	}

	return &http.Server{
		Addr:    addr,
		Handler: r,
	}
}
