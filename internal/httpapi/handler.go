package httpapi

import (
	"io"
	"net/http"

	"salesbi-dataplane/pkg/db/pagination"
	"salesbi-dataplane/pkg/errutil"
	"salesbi-dataplane/pkg/health"
	"salesbi-dataplane/pkg/middleware"
	"salesbi-dataplane/services/importjob"
	"salesbi-dataplane/services/schedule"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewHandler, ProvideRouter),
)

// Handler exposes the sales import and lifecycle API over HTTP.
type Handler struct {
	service   *importjob.Service
	schedules *schedule.Manager
	health    health.HealthService
}

type HandlerParams struct {
	fx.In
	Service   *importjob.Service
	Schedules *schedule.Manager
	Health    health.HealthService
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		service:   p.Service,
		schedules: p.Schedules,
		health:    p.Health,
	}
}

func ProvideRouter(h *Handler) http.Handler {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Error())

	r.GET("/healthz", h.health.Liveness)
	r.GET("/readyz", h.health.Readiness)

	v1 := r.Group("/v1/sales")
	{
		v1.POST("/import", h.submitImport)
		v1.GET("", h.listRecords)
		v1.DELETE("", h.softDeleteAll)
		v1.GET("/trash", h.listTrash)

		v1.GET("/jobs", h.history)
		v1.GET("/jobs/:jobId", h.getJob)
		v1.GET("/jobs/:jobId/progress", h.progress)
		v1.DELETE("/jobs/:jobId", h.softDelete)
		v1.DELETE("/jobs/:jobId/permanent", h.purge)
		v1.POST("/jobs/:jobId/restore", h.restore)

		v1.POST("/monitoring/schedules", h.createSchedule)
		v1.DELETE("/monitoring/schedules/:tenantId", h.deleteSchedule)
	}

	return r
}

func (h *Handler) submitImport(c *gin.Context) {
	var req importjob.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	result, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, result)
}

func (h *Handler) listRecords(c *gin.Context) {
	var p pagination.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		c.Error(errutil.BadRequest("invalid pagination parameters", errutil.WithErr(err)))
		return
	}

	records, pageInfo, err := h.service.ListRecords(c.Request.Context(), c.Query("tenantId"), p)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": records, "pageInfo": pageInfo})
}

func (h *Handler) history(c *gin.Context) {
	jobs, err := h.service.History(c.Request.Context(), c.Query("tenantId"), c.Query("departmentId"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": jobs})
}

func (h *Handler) getJob(c *gin.Context) {
	job, err := h.service.GetJob(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// progress streams job state as server-sent events until the job reaches a
// terminal status or the client disconnects.
func (h *Handler) progress(c *gin.Context) {
	events, err := h.service.Progress(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		c.Error(err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		ev, ok := <-events
		if !ok {
			return false
		}
		c.SSEvent("progress", ev)
		return true
	})
}

func (h *Handler) softDelete(c *gin.Context) {
	err := h.service.SoftDelete(c.Request.Context(), c.Param("jobId"),
		c.GetHeader("X-User-Id"), c.GetHeader("X-User-Name"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "job moved to trash"})
}

func (h *Handler) softDeleteAll(c *gin.Context) {
	count, err := h.service.SoftDeleteAll(c.Request.Context(),
		c.Query("tenantId"), c.Query("departmentId"),
		c.GetHeader("X-User-Id"), c.GetHeader("X-User-Name"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "jobs moved to trash", "count": count})
}

func (h *Handler) restore(c *gin.Context) {
	if err := h.service.Restore(c.Request.Context(), c.Param("jobId")); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "job restored"})
}

func (h *Handler) purge(c *gin.Context) {
	if err := h.service.Purge(c.Request.Context(), c.Param("jobId")); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "job permanently deleted"})
}

func (h *Handler) listTrash(c *gin.Context) {
	entries, err := h.service.ListTrash(c.Request.Context(), c.Query("tenantId"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entries})
}

type scheduleRequest struct {
	TenantID string `json:"tenantId"`
}

func (h *Handler) createSchedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	result, err := h.schedules.CreateMonitoring(c.Request.Context(), req.TenantID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) deleteSchedule(c *gin.Context) {
	result, err := h.schedules.DeleteMonitoring(c.Request.Context(), c.Param("tenantId"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}
