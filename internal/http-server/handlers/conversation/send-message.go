package conversation

import (
	"SupportDesk/internal/lib/api/cont"
	"SupportDesk/internal/lib/api/response"
	"SupportDesk/internal/lib/sl"
	"SupportDesk/internal/lib/validate"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type SendRequest struct {
	Content string `json:"content" validate:"required,notblank,max=4096"`
}

func SendMessage(log *slog.Logger, handler Core) http.HandlerFunc {
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

		var req SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode request body", sl.Err(err))
			badRequest(w, r, "Invalid request body")
			return
		}
		if err := validate.Struct(&req); err != nil {
			badRequest(w, r, err.Error())
			return
		}

		msg, err := handler.SendOperatorMessage(r.Context(), id, operator.Username, req.Content)
		if err != nil {
			fail(w, r, logger, err)
			return
		}
		logger.Debug("operator message stored", slog.Int64("message", msg.ID))

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, response.Ok(msg))
	}
}
