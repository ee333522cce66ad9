package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"buddypark.app/relay/internal/http/dto"
	"buddypark.app/relay/internal/model"
	"buddypark.app/relay/internal/service"
)

type TurnHandler struct {
	service service.TurnService
}

func NewTurnHandler(service service.TurnService) *TurnHandler {
	return &TurnHandler{service: service}
}

func (h *TurnHandler) Handle(c *gin.Context) {
	ctx := c.Request.Context()

	req := service.TurnRequest{
		ConversationID: c.GetHeader(dto.HeaderConversationID),
		CharacterID:    c.GetHeader(dto.HeaderCharacterID),
		UserID:         c.GetHeader(dto.HeaderUserID),
		RoutingToken:   c.GetHeader(dto.HeaderRoutingToken),
		RequestType:    model.RequestType(c.GetHeader(dto.HeaderRequestType)),
	}
	if req.RequestType == "" {
		req.RequestType = model.RequestTypeNewMessage
	}

	// app-restart carries no body.
	if req.RequestType != model.RequestTypeAppRestart {
		var body dto.TurnRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			slog.WarnContext(ctx, "invalid turn request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req.Messages = make([]model.RequestMessage, 0, len(body.Messages))
		for _, m := range body.Messages {
			req.Messages = append(req.Messages, model.RequestMessage{Role: model.Role(m.Role), Content: m.Content})
		}
	}

	result, err := h.service.Handle(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidTurn):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrNoSnapshot):
			c.JSON(http.StatusNotFound, gin.H{"error": "no reply for conversation"})
		case errors.Is(err, service.ErrUpstream):
			resp := gin.H{"error": "completion failed"}
			if result != nil {
				resp["reply_id"] = result.ReplyID
				resp["fragments"] = result.Fragments
			}
			c.JSON(http.StatusBadGateway, resp)
		default:
			slog.ErrorContext(ctx, "failed to handle turn", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to handle turn"})
		}
		return
	}

	c.JSON(http.StatusOK, dto.TurnResponse{
		ReplyID:   result.ReplyID,
		Status:    string(result.Status),
		Reply:     result.Reply,
		Fragments: result.Fragments,
	})
}
