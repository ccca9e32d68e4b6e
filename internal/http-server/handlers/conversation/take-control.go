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

func TakeControl(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.conversation")

		id, ok := conversationID(r)
		if !ok {
			badRequest(w, r, "Invalid conversation id")
			return
		}
		operator := cont.GetOperator(r.Context())
		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Int64("conversation", id),
			slog.String("user", operator.Username),
		)

		update, err := handler.TakeControl(r.Context(), id, operator.Username)
		if err != nil {
			fail(w, r, logger, err)
			return
		}
		logger.Info("took control")

		render.JSON(w, r, response.Ok(update))
	}
}
