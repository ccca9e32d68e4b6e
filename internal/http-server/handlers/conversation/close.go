package conversation

import (
	"SupportDesk/internal/lib/api/cont"
	"SupportDesk/internal/lib/api/response"
	"SupportDesk/internal/lib/sl"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

func Close(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.conversation")

		id, ok := conversationID(r)
		if !ok {
			badRequest(w, r, "Invalid conversation id")
			return
		}
		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Int64("conversation", id),
			slog.String("user", cont.GetOperator(r.Context()).Username),
		)

		update, err := handler.Close(r.Context(), id)
		if err != nil {
			fail(w, r, logger, err)
			return
		}
		logger.Info("closed conversation")

		render.JSON(w, r, response.Ok(update))
	}
}
