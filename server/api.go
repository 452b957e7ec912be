package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"recorder-agent/capture"
	"recorder-agent/constant"
	"recorder-agent/dto"
	"recorder-agent/repository"
	"recorder-agent/session"
	"recorder-agent/uploader"
)

// api exposes the local control surface. It is a thin adapter: all session
// semantics live in the state machine, all upload semantics in the pipeline.
type api struct {
	machine  *session.Machine
	pipeline *uploader.Pipeline
	repo     repository.Repository
}

func newAPI(machine *session.Machine, pipeline *uploader.Pipeline, repo repository.Repository) *api {
	return &api{
		machine:  machine,
		pipeline: pipeline,
		repo:     repo,
	}
}

func (a *api) register(r *gin.Engine) {
	grp := r.Group("/api")
	grp.POST("/recordings/start", a.startRecording)
	grp.POST("/recordings/stop", a.stopRecording)
	grp.GET("/recordings/status", a.recordingStatus)
	grp.GET("/uploads", a.listUploads)
	grp.POST("/uploads/retry", a.retryUploads)
}

func (a *api) startRecording(c *gin.Context) {
	// An empty body is a valid manual start.
	req := dto.StartRecordingRequest{}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	start := session.StartRequest{
		Title:  req.Title,
		Origin: constant.TriggerOriginManual,
	}
	if req.DurationMinutes > 0 {
		expected := time.Duration(req.DurationMinutes) * time.Minute
		start.ExpectedDuration = &expected
	}

	sess, err := a.machine.Start(c.Request.Context(), start)
	if err != nil {
		if errors.Is(err, session.ErrSessionActive) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		acq := &capture.AcquisitionError{}
		if errors.As(err, &acq) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, sess)
}

func (a *api) stopRecording(c *gin.Context) {
	sess, err := a.machine.Stop(c.Request.Context(), constant.StopReasonManual)
	if err != nil {
		if errors.Is(err, session.ErrNoActiveSession) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		// The session still reached a terminal state; report it with the
		// failure so callers see both.
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "session": sess})
		return
	}

	c.JSON(http.StatusOK, sess)
}

func (a *api) recordingStatus(c *gin.Context) {
	status := a.machine.Snapshot()
	c.JSON(http.StatusOK, dto.RecordingStatusResponse{
		RecordingActive:  status.RecordingActive,
		Session:          status.Session,
		ElapsedSeconds:   int(status.Elapsed.Seconds()),
		RemainingSeconds: int(status.Remaining.Seconds()),
	})
}

// listUploads returns the tasks for a session when session_id is given,
// otherwise the tasks parked as failed across all sessions.
func (a *api) listUploads(c *gin.Context) {
	if raw := c.Query("session_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_id"})
			return
		}
		tasks, err := a.repo.UploadTasksBySessionId(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, tasks)
		return
	}

	tasks, err := a.repo.FailedUploadTasks(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (a *api) retryUploads(c *gin.Context) {
	reset, err := a.pipeline.RetryAllFailed(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.RetryUploadsResponse{Reset: reset})
}
