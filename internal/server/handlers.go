package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/knowledgeflow-backend/internal/apierrors"
	"github.com/yungbote/knowledgeflow-backend/internal/convert"
	"github.com/yungbote/knowledgeflow-backend/internal/meta"
	"github.com/yungbote/knowledgeflow-backend/internal/monitoring"
	"github.com/yungbote/knowledgeflow-backend/internal/pipeline"
	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
	"github.com/yungbote/knowledgeflow-backend/internal/storage"
	"github.com/yungbote/knowledgeflow-backend/internal/tasks"
	"github.com/yungbote/knowledgeflow-backend/internal/video"
)

// API bundles every HTTP handler with the services it fronts.
type API struct {
	log        *logger.Logger
	cfg        convert.Settings
	registry   *convert.Registry
	worker     *convert.Worker
	dispatcher tasks.Dispatcher
	pipeline   *pipeline.Service
	health     *monitoring.Health
}

func NewAPI(log *logger.Logger, cfg convert.Settings, registry *convert.Registry, worker *convert.Worker,
	dispatcher tasks.Dispatcher, pipelineSvc *pipeline.Service, health *monitoring.Health) *API {
	return &API{
		log:        log.With("service", "API"),
		cfg:        cfg,
		registry:   registry,
		worker:     worker,
		dispatcher: dispatcher,
		pipeline:   pipelineSvc,
		health:     health,
	}
}

func errorBody(ae *apierrors.APIError) gin.H {
	message := ae.Spec.MessageEN
	if ae.Detail != "" {
		message = fmt.Sprintf("%s: %s", message, ae.Detail)
	}
	return gin.H{
		"status":       "failure",
		"error_code":   ae.Spec.Code,
		"error_status": ae.Spec.Numeric,
		"message":      message,
		"zh_message":   ae.Spec.MessageZH,
	}
}

func renderError(c *gin.Context, err error) {
	ae := apierrors.From(err)
	c.JSON(ae.HTTPStatusCode(), errorBody(ae))
}

func abortWithError(c *gin.Context, ae *apierrors.APIError) {
	c.AbortWithStatusJSON(ae.HTTPStatusCode(), errorBody(ae))
}

func badRequest(c *gin.Context, detail string) {
	ae := apierrors.New(apierrors.CodeTaskFailed, detail)
	c.JSON(http.StatusBadRequest, errorBody(ae))
}

// ConvertRequest is the POST /convert body.
type ConvertRequest struct {
	TaskName    string             `json:"task_name,omitempty"`
	Mode        string             `json:"mode,omitempty"`
	Priority    string             `json:"priority,omitempty"`
	CallbackURL string             `json:"callback_url,omitempty"`
	RequestedBy string             `json:"requested_by,omitempty"`
	Storage     *storage.Override  `json:"storage,omitempty"`
	Files       []convert.FileSpec `json:"files"`
}

// Convert validates the batch and either runs it inline (sync mode,
// single file) or enqueues it and returns the task id for polling.
func (a *API) Convert(c *gin.Context) {
	var req ConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	files := convert.ApplyDefaultTargets(a.registry, req.Files)
	sync := req.Mode == "sync"
	if ae := convert.ValidateRequest(a.cfg, a.registry, files, sync); ae != nil {
		renderError(c, ae)
		return
	}
	priority := req.Priority
	if priority == "" {
		priority = "normal"
	}
	monitoring.RecordTaskAccepted(priority)

	payload := convert.JobPayload{
		TaskID:      uuid.NewString(),
		Priority:    priority,
		CallbackURL: req.CallbackURL,
		RequestedBy: req.RequestedBy,
		Storage:     req.Storage,
		Files:       files,
	}

	if sync {
		result, err := a.worker.HandleBatch(c.Request.Context(), payload)
		if err != nil {
			monitoring.RecordTaskCompleted(convert.StatusFailed)
			renderError(c, err)
			return
		}
		monitoring.RecordTaskCompleted(result.Status)
		c.JSON(http.StatusOK, gin.H{
			"status":  "success",
			"task_id": payload.TaskID,
			"results": result.Results,
		})
		return
	}

	id, err := a.dispatcher.Submit(c.Request.Context(), tasks.TaskConvertBatch, payload)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "task_id": id})
}

// Formats enumerates the registered (source, target, plugin) triples.
func (a *API) Formats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"formats": a.registry.List()})
}

// MonitorHealth reports dependency probe results.
func (a *API) MonitorHealth(c *gin.Context) {
	c.JSON(http.StatusOK, a.health.Report(c.Request.Context()))
}

// PipelineUpload stores a multipart file under the uploads prefix.
func (a *API) PipelineUpload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		badRequest(c, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	key, err := a.pipeline.SaveUpload(c.Request.Context(), header.Filename, file)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bucket": a.pipeline.Bucket(), "object_key": key})
}

// PipelineRecommend runs the full conversion→probe chain synchronously.
func (a *API) PipelineRecommend(c *gin.Context) {
	var payload convert.JobPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), a.pipeline.ChainTimeout())
	defer cancel()
	result, err := a.pipeline.RunDocumentPipeline(ctx, payload)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// VideoSlice enqueues a slicing run and returns its task id.
func (a *API) VideoSlice(c *gin.Context) {
	var req video.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	id, err := a.dispatcher.Submit(c.Request.Context(), tasks.TaskVideoSlice, req)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": id, "status": "accepted"})
}

// MetaEnrich enqueues manifest enrichment.
func (a *API) MetaEnrich(c *gin.Context) {
	var req meta.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	id, err := a.dispatcher.Submit(c.Request.Context(), tasks.TaskMetaEnrich, req)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": id, "status": "submitted"})
}

// submitRaw forwards the request body to a queue unchanged; the worker
// owns payload validation.
func (a *API) submitRaw(c *gin.Context, name string) {
	var payload json.RawMessage
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	id, err := a.dispatcher.Submit(c.Request.Context(), name, payload)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": id, "status": "submitted"})
}

func (a *API) IndexCreate(c *gin.Context)         { a.submitRaw(c, tasks.TaskESCreateIndex) }
func (a *API) IndexAliasSwitch(c *gin.Context)    { a.submitRaw(c, tasks.TaskESAliasSwitch) }
func (a *API) IndexBulk(c *gin.Context)           { a.submitRaw(c, tasks.TaskESBulkIndex) }
func (a *API) IndexDocindex(c *gin.Context)       { a.submitRaw(c, tasks.TaskESIngestDocindex) }
func (a *API) IndexRebuildFull(c *gin.Context)    { a.submitRaw(c, tasks.TaskESRebuildFull) }
func (a *API) IndexRebuildPartial(c *gin.Context) { a.submitRaw(c, tasks.TaskESRebuildPartial) }
func (a *API) IndexDeleteByQuery(c *gin.Context)  { a.submitRaw(c, tasks.TaskESDeleteByQuery) }

func (a *API) Search(c *gin.Context)       { a.submitRaw(c, tasks.TaskESSearch) }
func (a *API) SearchVector(c *gin.Context) { a.submitRaw(c, tasks.TaskESSearchVector) }
func (a *API) SearchHybrid(c *gin.Context) { a.submitRaw(c, tasks.TaskESSearchHybrid) }

func (a *API) VectorEmbed(c *gin.Context)  { a.submitRaw(c, tasks.TaskVectorEmbed) }
func (a *API) VectorRerank(c *gin.Context) { a.submitRaw(c, tasks.TaskVectorRerank) }

// TaskStatus polls a dispatched task. STARTED is reported as PENDING so
// clients only ever see PENDING/SUCCESS/FAILURE.
func (a *API) TaskStatus(c *gin.Context) {
	id := c.Param("id")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	state, err := a.dispatcher.Status(ctx, id)
	if err != nil {
		renderError(c, err)
		return
	}
	status := state.Status
	if status == tasks.StatusStarted {
		status = tasks.StatusPending
	}
	body := gin.H{"task_id": id, "status": status}
	if len(state.Result) > 0 {
		body["result"] = state.Result
	}
	if state.Error != "" {
		body["error"] = state.Error
	}
	c.JSON(http.StatusOK, body)
}
