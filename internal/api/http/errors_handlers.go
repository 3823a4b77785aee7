package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/appshell/internal/shared/utils"
)

const maxReportedErrors = 20

// ShellError is an error raised inside the embedded shell.
type ShellError struct {
	Context string `json:"context"`
	Message string `json:"message"`
	Stack   string `json:"stack"`
	Fatal   bool   `json:"fatal"`
}

// ShellErrorReport is a batch of errors from the shell.
type ShellErrorReport struct {
	Errors []ShellError `json:"errors"`
}

// reportedError carries the shell's own stack into the capture hook.
type reportedError struct {
	msg   string
	stack string
}

func (e *reportedError) Error() string      { return e.msg }
func (e *reportedError) StackTrace() string { return e.stack }

// ListErrors returns the local error log, oldest first.
func (h *Handlers) ListErrors(c *gin.Context) {
	entries := h.errors.Entries()
	c.JSON(http.StatusOK, gin.H{
		"entries":  entries,
		"count":    len(entries),
		"capacity": h.errors.Capacity(),
	})
}

// ClearErrors empties the local error log.
func (h *Handlers) ClearErrors(c *gin.Context) {
	if err := h.errors.Clear(); err != nil {
		h.logger.Error("Failed to clear error log", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear error log"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ReportErrors routes errors raised in the shell through the global error
// capture, so they land in the same log and reporter as launcher errors.
func (h *Handlers) ReportErrors(c *gin.Context) {
	var req ShellErrorReport
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid error report"})
		return
	}
	if len(req.Errors) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no errors provided"})
		return
	}
	if len(req.Errors) > maxReportedErrors {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many errors in one report"})
		return
	}

	accepted := 0
	for _, e := range req.Errors {
		if err := validateShellError(e); err != nil {
			h.logger.Debug("Rejected shell error", zap.Error(err), zap.String("context", e.Context))
			continue
		}
		where, err := "Shell: "+e.Context, &reportedError{msg: e.Message, stack: e.Stack}
		if e.Fatal {
			// Fatal captures may wait on a development alert
			go h.capture.Capture(where, err, true)
		} else {
			h.capture.Capture(where, err, false)
		}
		accepted++
	}

	c.JSON(http.StatusAccepted, gin.H{
		"received": len(req.Errors),
		"accepted": accepted,
	})
}

func validateShellError(e ShellError) error {
	if err := utils.ValidateString(e.Context, "context", 1, utils.MaxTitleLength, true); err != nil {
		return err
	}
	if err := utils.ValidateString(e.Message, "message", 1, utils.MaxMessageSize, true); err != nil {
		return err
	}
	return utils.ValidateString(e.Stack, "stack", 0, utils.MaxMetadataSize, false)
}
