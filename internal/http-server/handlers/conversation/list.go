package conversation

import (
	"SupportDesk/entity"
	"SupportDesk/internal/lib/api/response"
	"SupportDesk/internal/lib/sl"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

func List(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.conversation")

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		query := r.URL.Query()
		status := entity.Status(query.Get("status"))
		limit, offset := 0, 0
		var err error
		if v := query.Get("limit"); v != "" {
			if limit, err = strconv.Atoi(v); err != nil {
				badRequest(w, r, "Invalid limit")
				return
			}
		}
		if v := query.Get("offset"); v != "" {
			if offset, err = strconv.Atoi(v); err != nil {
				badRequest(w, r, "Invalid offset")
				return
			}
		}

		list, err := handler.ListConversations(r.Context(), status, limit, offset)
		if err != nil {
			fail(w, r, logger, err)
			return
		}
		logger.Debug("list conversations", slog.String("status", string(status)), slog.Int("count", len(list)))

		render.JSON(w, r, response.Ok(list))
	}
}
