package inbound

import (
	"SupportDesk/impl/core"
	"SupportDesk/internal/lib/api/response"
	"SupportDesk/internal/lib/sl"
	"SupportDesk/internal/lib/validate"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

// MessageRequest is what a messaging channel posts for every customer message.
type MessageRequest struct {
	Phone   string `json:"phone" validate:"required,e164"`
	Name    string `json:"name" validate:"max=128"`
	Content string `json:"content" validate:"required,notblank,max=4096"`
}

func Receive(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.inbound")

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req MessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode request body", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("Invalid request body"))
			return
		}
		if err := validate.Struct(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}

		msg, err := handler.ReceiveCustomerMessage(r.Context(), req.Phone, req.Name, req.Content)
		if err != nil {
			if errors.Is(err, core.ErrInvalid) {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.Error(err.Error()))
				return
			}
			logger.Error("receive customer message", sl.Err(err))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("Internal error"))
			return
		}
		logger.Debug("customer message stored",
			slog.Int64("conversation", msg.ConversationID),
			slog.Int64("message", msg.ID),
		)

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, response.Ok(msg))
	}
}
