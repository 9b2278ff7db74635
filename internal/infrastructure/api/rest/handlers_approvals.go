package rest

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smilemakc/mbflow/internal/application/approval"
	"github.com/smilemakc/mbflow/internal/application/engine"
	"github.com/smilemakc/mbflow/internal/infrastructure/logger"
)

// ApprovalHandlers provides HTTP handlers for the human_task approval
// response endpoint: the link an assignee clicks (or POSTs to) to approve or
// reject a suspended execution.
type ApprovalHandlers struct {
	executionManager *engine.ExecutionManager
	logger           *logger.Logger
}

// NewApprovalHandlers creates a new ApprovalHandlers instance
func NewApprovalHandlers(executionManager *engine.ExecutionManager, log *logger.Logger) *ApprovalHandlers {
	return &ApprovalHandlers{
		executionManager: executionManager,
		logger:           log,
	}
}

// HandleRespond handles GET and POST /api/v1/approvals/:execution_id/respond.
// GET serves the plain-link case (token/action/comment in the query string,
// as found in an email or chat notification); POST accepts a JSON body for
// programmatic callers. Either way it resumes the paused execution.
func (h *ApprovalHandlers) HandleRespond(c *gin.Context) {
	executionID := c.Param("execution_id")
	if executionID == "" {
		respondAPIError(c, ErrMissingParameter)
		return
	}

	var req struct {
		Token   string                 `json:"token" form:"token"`
		Action  string                 `json:"action" form:"action"`
		Comment string                 `json:"comment" form:"comment"`
		Data    map[string]interface{} `json:"data"`
	}

	if c.Request.Method == http.MethodPost && c.ContentType() == "application/json" {
		if err := bindJSON(c, &req); err != nil {
			return
		}
	} else {
		req.Token = c.Query("token")
		req.Action = c.Query("action")
		req.Comment = c.Query("comment")
	}

	if req.Token == "" || req.Action == "" {
		respondAPIError(c, NewAPIError("MISSING_FIELDS", "token and action are required", http.StatusBadRequest))
		return
	}

	action := approval.Action(req.Action)
	if action != approval.ActionApprove && action != approval.ActionReject {
		respondAPIError(c, NewAPIError("INVALID_ACTION", "action must be approve or reject", http.StatusBadRequest))
		return
	}

	execution, err := h.executionManager.Resume(c.Request.Context(), executionID, req.Token, action, req.Comment, req.Data)
	if err != nil {
		h.logger.Error("Failed to resolve approval", "error", err, "execution_id", executionID, "request_id", GetRequestID(c))
		if c.Request.Method == http.MethodGet {
			c.Data(http.StatusBadRequest, "text/html; charset=utf-8", []byte(approvalResultPage(false, err.Error())))
			return
		}
		respondAPIErrorWithRequestID(c, TranslateError(err))
		return
	}

	h.logger.Info("Approval response applied", "execution_id", executionID, "action", req.Action, "request_id", GetRequestID(c))

	if c.Request.Method == http.MethodGet {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(approvalResultPage(true, string(execution.Status))))
		return
	}

	respondJSON(c, http.StatusOK, execution)
}

// approvalResultPage renders the minimal confirmation page shown to an
// assignee who clicked an approve/reject link in a browser.
func approvalResultPage(ok bool, detail string) string {
	title := "Response recorded"
	if !ok {
		title = "Unable to record response"
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html><head><title>%s</title></head>
<body style="font-family: sans-serif; max-width: 32rem; margin: 4rem auto; text-align: center;">
<h1>%s</h1>
<p>%s</p>
</body></html>`, title, title, detail)
}
