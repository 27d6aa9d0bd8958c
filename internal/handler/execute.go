package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/sakif/code-sandbox/internal/apperror"
	"github.com/sakif/code-sandbox/internal/executor"
	"github.com/sakif/code-sandbox/internal/service"
)

// maxBodyBytes caps the request body; JSON escaping can make a 100 000 byte
// snippet several times larger on the wire.
const maxBodyBytes = 1 << 20

const noOutputMessage = "Code executed successfully (no output)"

// ExecuteHandler handles code execution requests.
type ExecuteHandler struct {
	svc    *service.ExecutionService
	logger *slog.Logger
}

// NewExecuteHandler creates a new ExecuteHandler.
func NewExecuteHandler(svc *service.ExecutionService, logger *slog.Logger) *ExecuteHandler {
	return &ExecuteHandler{
		svc:    svc,
		logger: logger,
	}
}

type executeRequest struct {
	Code *string `json:"code"`
}

// executeResponse is what the editor front-end reads: the program output and,
// when something went wrong, a human-readable error.
type executeResponse struct {
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// HandleExecute runs the posted snippet and renders its terminal state.
//
// Every terminal status of a cell is a 200 with an "error" field; only
// request problems (400) and sandbox unavailability (503/500) change the
// status code.
func (h *ExecuteHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid execution request body", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, executeResponse{Error: "Invalid request body"})
		return
	}
	if req.Code == nil {
		writeJSON(w, http.StatusBadRequest, executeResponse{Error: "No code provided"})
		return
	}

	res, err := h.svc.Execute(r.Context(), *req.Code, executor.Limits{})
	if err != nil {
		h.writeExecuteError(w, err)
		return
	}

	w.Header().Set("X-Execution-ID", res.ID)
	status, body := renderResult(res)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, body)
}

func (h *ExecuteHandler) writeExecuteError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	switch {
	case errors.Is(err, apperror.ErrValidation) && errors.As(err, &appErr):
		writeJSON(w, http.StatusBadRequest, executeResponse{Error: appErr.Message})
	case errors.Is(err, executor.ErrClosed):
		writeJSON(w, http.StatusServiceUnavailable, executeResponse{Error: "Sandbox is shutting down"})
	default:
		h.logger.Error("code execution failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, executeResponse{Error: "Server error: execution unavailable"})
	}
}

// renderResult maps a terminal status to the response status and body.
// Output is trimmed only on success; partial output of a failed cell is
// returned as captured.
func renderResult(res *executor.ExecutionResult) (int, executeResponse) {
	stdout := res.Stdout

	switch res.Status {
	case executor.StatusCompleted:
		body := executeResponse{Output: strings.TrimSpace(stdout), Error: strings.TrimSpace(res.Stderr)}
		if body.Output == "" {
			body.Output = noOutputMessage
		}
		return http.StatusOK, body
	case executor.StatusTimedOut:
		return http.StatusOK, executeResponse{
			Output: stdout,
			Error:  fmt.Sprintf("Code execution timed out (%s second limit)", seconds(res.Limits.TimeLimit.Seconds())),
		}
	case executor.StatusMemoryExceeded:
		return http.StatusOK, executeResponse{Output: stdout, Error: "Code execution exceeded memory limit"}
	case executor.StatusRuntimeFailed:
		return http.StatusOK, executeResponse{Output: stdout, Error: "Python execution error: " + errorText(res)}
	case executor.StatusKilled:
		return http.StatusOK, executeResponse{Output: stdout, Error: "Code execution was terminated"}
	case executor.StatusBusy:
		return http.StatusServiceUnavailable, executeResponse{Error: "Sandbox is at capacity, please retry"}
	case executor.StatusRejected:
		return http.StatusBadRequest, executeResponse{Error: res.ErrorMessage}
	}
	return http.StatusInternalServerError, executeResponse{Error: "Server error: execution unavailable"}
}

// errorText is the exception message, as str(exc) would print it.
func errorText(res *executor.ExecutionResult) string {
	if res.ErrorMessage == "" {
		return res.ErrorType
	}
	return res.ErrorMessage
}

func seconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}
