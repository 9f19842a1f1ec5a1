package daemon

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"ozonassist/internal/api"
	"ozonassist/internal/logging"
	"ozonassist/internal/notifications"
	"ozonassist/internal/store"
)

func (s *apiServer) handleStatus(c *gin.Context) {
	s.ok(c, api.ServerStatus{
		Status:    "running",
		Port:      s.port(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleTaskFailed is the agent's failure beacon. It never touches the store
// and always succeeds; its only effect is an operator alert.
func (s *apiServer) handleTaskFailed(c *gin.Context) {
	msg := strings.TrimSpace(c.Query("msg"))
	logging.WarnWithContext(s.log(c), "browser agent reported a failure", "agent_failure_reported",
		logging.String("agent_message", msg),
		logging.String(logging.FieldErrorHint, "the marketplace page layout may have changed or the network dropped"),
		logging.String(logging.FieldImpact, "the agent paused its current complaint"),
	)
	if err := s.notifier.Publish(c.Request.Context(), notifications.EventTaskFailed, notifications.Payload{"message": msg}); err != nil {
		logging.WarnWithContext(s.log(c), "failure alert not delivered", "alert_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
	c.JSON(http.StatusOK, api.Envelope{Success: true, Message: "failure recorded"})
}

func (s *apiServer) handleRandomImage(c *gin.Context) {
	att, err := s.registry.PickRandom(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	if att == nil {
		s.log(c).Warn("no images available for the agent",
			logging.String(logging.FieldEventType, "no_images"),
			logging.String(logging.FieldErrorHint, "import images with `ozonassist images import`"),
			logging.String(logging.FieldImpact, "the agent cannot attach proof"),
		)
		s.reject(c, "No images available")
		return
	}
	s.ok(c, api.FromRandomPick(att, s.baseURL()))
}

// handleUnprocessed reaps stale claims, claims the oldest pending complaint,
// and runs the completion check when nothing is left.
func (s *apiServer) handleUnprocessed(c *gin.Context) {
	item, err := s.engine.Poll(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	if item == nil {
		s.reject(c, "No pending complaints")
		return
	}
	s.ok(c, api.FromWorkItem(item, s.baseURL()))
}

func (s *apiServer) handleOutcome(c *gin.Context) {
	var req api.OutcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, store.Validationf("invalid request body: %v", err))
		return
	}
	status, err := store.ParseStatus(req.Status)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.engine.ReportOutcome(c.Request.Context(), c.Param("sku"), status, strings.TrimSpace(req.Remark)); err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, nil)
}

func (s *apiServer) handleLinkImage(c *gin.Context) {
	var req api.LinkImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, store.Validationf("invalid request body: %v", err))
		return
	}
	if err := s.registry.Link(c.Request.Context(), c.Param("sku"), int64(req.ImageID)); err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, nil)
}
