package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Mutter0815/DripMailer/internal/apperr"
	"github.com/Mutter0815/DripMailer/internal/bulk"
	"github.com/Mutter0815/DripMailer/internal/engine"
	"github.com/Mutter0815/DripMailer/internal/model"
	"github.com/Mutter0815/DripMailer/internal/store"
)

type engineAPI interface {
	CreateCampaign(ctx context.Context, ownerID, name, description string, steps []model.Step) (*model.Campaign, error)
	GetCampaign(ctx context.Context, id, ownerID string) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, ownerID string, limit, offset int) ([]model.Campaign, error)
	UpdateCampaign(ctx context.Context, c *model.Campaign) (*model.Campaign, error)
	DeleteCampaign(ctx context.Context, id, ownerID string) error
	StartCampaign(ctx context.Context, id, ownerID string, recipients []model.Recipient) (*model.Campaign, error)
	PauseCampaign(ctx context.Context, id, ownerID string) (*model.Campaign, error)
	ResumeCampaign(ctx context.Context, id, ownerID string) (*model.Campaign, error)
	CancelCampaign(ctx context.Context, id, ownerID string) (*model.Campaign, error)
	ListExecutions(ctx context.Context, f store.ExecutionFilter) (*engine.ExecutionPage, error)
	GetExecution(ctx context.Context, id, ownerID string) (*model.Execution, error)
}

type bulkAPI interface {
	StartBulkJob(ctx context.Context, req bulk.BulkRequest) (*model.BulkJob, error)
	GetBulkJob(ctx context.Context, id, ownerID string) (*model.BulkJob, error)
	ScheduleBulkJob(ctx context.Context, req bulk.BulkRequest, sendAt time.Time) (*model.ScheduledJob, error)
	Reschedule(ctx context.Context, id, ownerID string, sendAt time.Time) (*model.ScheduledJob, error)
	CancelScheduled(ctx context.Context, id, ownerID string) error
	ListScheduledJobs(ctx context.Context, ownerID string) ([]model.ScheduledJob, error)
}

type Handlers struct {
	Engine engineAPI
	Bulk   bulkAPI
}

func NewHandlers(e engineAPI, b bulkAPI) *Handlers {
	return &Handlers{Engine: e, Bulk: b}
}

// Authentication is an external collaborator; the owning layer injects the
// caller's identity here.
func owner(c *gin.Context) string {
	if id := c.Request.Header.Get("X-Owner-ID"); id != "" {
		return id
	}
	return "default"
}

func writeErr(c *gin.Context, err error) {
	switch {
	case apperr.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case apperr.IsInvalidState(err), apperr.IsAlreadyRunning(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case apperr.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case apperr.IsTransport(err):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server error"})
	}
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

type stepReq struct {
	Name         string `json:"name"`
	DelayMinutes int    `json:"delay_minutes"`
	TemplateID   string `json:"template_id"`
	ServiceName  string `json:"service_name"`
	Subject      string `json:"subject"`
	SenderName   string `json:"sender_name"`
	SenderEmail  string `json:"sender_email"`
	Body         string `json:"body"`
	Condition    string `json:"condition"`
}

func (r stepReq) toModel() model.Step {
	return model.Step{
		Name:        r.Name,
		Delay:       time.Duration(r.DelayMinutes) * time.Minute,
		TemplateID:  r.TemplateID,
		ServiceName: r.ServiceName,
		Subject:     r.Subject,
		SenderName:  r.SenderName,
		SenderEmail: r.SenderEmail,
		Body:        r.Body,
		Condition:   model.StepCondition(r.Condition),
	}
}

type createCampaignReq struct {
	Name        string    `json:"name" binding:"required"`
	Description string    `json:"description"`
	Steps       []stepReq `json:"steps" binding:"required,min=1"`
}

func (h *Handlers) CreateCampaign(c *gin.Context) {
	var req createCampaignReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	steps := make([]model.Step, len(req.Steps))
	for i, s := range req.Steps {
		steps[i] = s.toModel()
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	camp, err := h.Engine.CreateCampaign(ctx, owner(c), req.Name, req.Description, steps)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, camp)
}

func (h *Handlers) ListCampaigns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	campaigns, err := h.Engine.ListCampaigns(ctx, owner(c), limit, offset)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, campaigns)
}

func (h *Handlers) GetCampaign(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	camp, err := h.Engine.GetCampaign(ctx, c.Param("id"), owner(c))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, camp)
}

type updateCampaignReq struct {
	Name        string    `json:"name" binding:"required"`
	Description string    `json:"description"`
	Steps       []stepReq `json:"steps" binding:"required,min=1"`
}

func (h *Handlers) UpdateCampaign(c *gin.Context) {
	var req updateCampaignReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	steps := make([]model.Step, len(req.Steps))
	for i, s := range req.Steps {
		steps[i] = s.toModel()
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	camp, err := h.Engine.UpdateCampaign(ctx, &model.Campaign{
		ID:          c.Param("id"),
		OwnerID:     owner(c),
		Name:        req.Name,
		Description: req.Description,
		Steps:       steps,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, camp)
}

func (h *Handlers) DeleteCampaign(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.Engine.DeleteCampaign(ctx, c.Param("id"), owner(c)); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

type startCampaignReq struct {
	// Recipients arrive already parsed; CSV handling is the upload
	// collaborator's job.
	Recipients []model.Recipient `json:"recipients" binding:"required,min=1"`
}

func (h *Handlers) StartCampaign(c *gin.Context) {
	var req startCampaignReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	camp, err := h.Engine.StartCampaign(ctx, c.Param("id"), owner(c), req.Recipients)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, camp)
}

func (h *Handlers) PauseCampaign(c *gin.Context)  { h.control(c, h.Engine.PauseCampaign) }
func (h *Handlers) ResumeCampaign(c *gin.Context) { h.control(c, h.Engine.ResumeCampaign) }
func (h *Handlers) CancelCampaign(c *gin.Context) { h.control(c, h.Engine.CancelCampaign) }

func (h *Handlers) control(c *gin.Context, op func(context.Context, string, string) (*model.Campaign, error)) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	camp, err := op(ctx, c.Param("id"), owner(c))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, camp)
}

func (h *Handlers) ListExecutions(c *gin.Context) {
	f := store.ExecutionFilter{
		OwnerID:    owner(c),
		CampaignID: c.Query("campaign"),
		Status:     model.ExecutionStatus(c.Query("status")),
		Email:      c.Query("email"),
		SortBy:     c.DefaultQuery("sort_by", "scheduleAt"),
		Order:      c.DefaultQuery("order", "asc"),
	}
	f.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	f.PerPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if v := c.Query("step_index"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.StepIndex = &n
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	page, err := h.Engine.ListExecutions(ctx, f)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handlers) GetExecution(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	exec, err := h.Engine.GetExecution(ctx, c.Param("id"), owner(c))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

type bulkJobReq struct {
	TemplateID  string            `json:"template_id"`
	ServiceName string            `json:"service_name"`
	Subject     string            `json:"subject"`
	SenderName  string            `json:"sender_name"`
	SenderEmail string            `json:"sender_email"`
	HTMLBody    string            `json:"html_body"`
	AccountIDs  []string          `json:"account_ids"`
	Recipients  []model.Recipient `json:"recipients" binding:"required,min=1"`
	ScheduleAt  *time.Time        `json:"schedule_at"`
}

func (r bulkJobReq) toRequest(ownerID string) bulk.BulkRequest {
	return bulk.BulkRequest{
		OwnerID:    ownerID,
		TemplateID: r.TemplateID,
		Content: model.ContentSnapshot{
			ServiceName: r.ServiceName,
			Subject:     r.Subject,
			SenderName:  r.SenderName,
			SenderEmail: r.SenderEmail,
			HTMLBody:    r.HTMLBody,
		},
		AccountIDs: r.AccountIDs,
		Recipients: r.Recipients,
	}
}

func (h *Handlers) StartBulkJob(c *gin.Context) {
	var req bulkJobReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	job, err := h.Bulk.StartBulkJob(ctx, req.toRequest(owner(c)))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (h *Handlers) GetBulkJob(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	job, err := h.Bulk.GetBulkJob(ctx, c.Param("id"), owner(c))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *Handlers) ScheduleBulkJob(c *gin.Context) {
	var req bulkJobReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ScheduleAt == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "schedule_at is required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	job, err := h.Bulk.ScheduleBulkJob(ctx, req.toRequest(owner(c)), *req.ScheduleAt)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (h *Handlers) ListScheduledJobs(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	jobs, err := h.Bulk.ListScheduledJobs(ctx, owner(c))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, jobs)
}

type rescheduleReq struct {
	ScheduleAt time.Time `json:"schedule_at" binding:"required"`
}

func (h *Handlers) RescheduleBulkJob(c *gin.Context) {
	var req rescheduleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	job, err := h.Bulk.Reschedule(ctx, c.Param("id"), owner(c), req.ScheduleAt)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *Handlers) CancelScheduledBulkJob(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.Bulk.CancelScheduled(ctx, c.Param("id"), owner(c)); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "cancelled"})
}
