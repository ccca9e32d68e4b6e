package conversation

import (
	"SupportDesk/impl/core"
	"SupportDesk/internal/lib/api/response"
	"SupportDesk/internal/lib/sl"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// fail writes the status matching a core error. Unknown errors are logged and
// hidden behind a 500.
func fail(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, core.ErrInvalid):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		logger.Error("request failed", sl.Err(err))
		render.Status(r, status)
		render.JSON(w, r, response.Error("Internal error"))
		return
	}
	logger.Debug("request refused", sl.Err(err))
	render.Status(r, status)
	render.JSON(w, r, response.Error(err.Error()))
}

func conversationID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func badRequest(w http.ResponseWriter, r *http.Request, message string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, response.Error(message))
}
