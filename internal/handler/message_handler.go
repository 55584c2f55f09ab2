package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/lavadoc/internal/pkg/errcode"
	"github.com/xxxsen/lavadoc/internal/pkg/response"
	"github.com/xxxsen/lavadoc/internal/service"
)

type MessageHandler struct {
	chat *service.ChatService
}

func NewMessageHandler(chat *service.ChatService) *MessageHandler {
	return &MessageHandler{chat: chat}
}

type sendRequest struct {
	Nickname string `json:"nickname"`
	Text     string `json:"text"`
}

func (h *MessageHandler) Send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	res, err := h.chat.Send(c.Request.Context(), req.Nickname, req.Text)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}

func (h *MessageHandler) List(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid limit")
		return
	}
	msgs, err := h.chat.List(c.Request.Context(), limit)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, msgs)
}
