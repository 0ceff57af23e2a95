package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/song-pt/TongAI/internal/ai"
	"github.com/song-pt/TongAI/internal/chat"
	"github.com/song-pt/TongAI/internal/common"
	"github.com/song-pt/TongAI/internal/httpapi/middleware"
	"github.com/song-pt/TongAI/internal/prompt"
)

// images travel inline as data URIs
const maxSolveBody = 12 << 20

const followUpErrorAnswer = "Sorry, I encountered an error. Please try again."

type solveReq struct {
	Question  string `json:"question"`
	Subject   string `json:"subject"`
	Level     string `json:"level"`
	Language  string `json:"language"`
	Image     string `json:"image"`
	ImageKey  string `json:"image_key"`
	UseSearch bool   `json:"use_search"`
}

func (h *Handler) Solve(c *gin.Context) {
	id, ok := identityFromContext(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSolveBody)
	var req solveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			common.Fail(c, http.StatusRequestEntityTooLarge, 41301, "request too large")
			return
		}
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	res, err := h.ChatSvc.Solve(c.Request.Context(), chat.SolveInput{
		Identity:  id,
		Question:  req.Question,
		Subject:   req.Subject,
		Level:     req.Level,
		Language:  prompt.ParseLanguage(req.Language),
		Image:     req.Image,
		ImageKey:  req.ImageKey,
		UseSearch: req.UseSearch,
	})
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyQuestion):
			common.Fail(c, http.StatusBadRequest, 10002, err.Error())
		case errors.Is(err, chat.ErrBadImage):
			common.Fail(c, http.StatusBadRequest, 10003, err.Error())
		case errors.Is(err, chat.ErrImageKeyRequired):
			common.Fail(c, http.StatusForbidden, 40303, imageKeyRejected)
		default:
			msg := providerMessage(c, id.KeyCode, err)
			common.FailWithData(c, http.StatusBadGateway, 50201, msg, gin.H{"answer": "Error: " + msg})
		}
		return
	}
	common.OK(c, res)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type continueReq struct {
	Messages []chatMessage `json:"messages"`
	Message  string        `json:"message"`
}

func (h *Handler) Continue(c *gin.Context) {
	id, ok := identityFromContext(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSolveBody)
	var req continueReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	history := make([]ai.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		history = append(history, ai.Message{Role: m.Role, Content: m.Content})
	}

	res, err := h.ChatSvc.Continue(c.Request.Context(), chat.ContinueInput{
		Identity: id,
		History:  history,
		Message:  req.Message,
	})
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrBadRole):
			common.Fail(c, http.StatusBadRequest, 10002, err.Error())
		default:
			msg := providerMessage(c, id.KeyCode, err)
			common.FailWithData(c, http.StatusBadGateway, 50201, msg, gin.H{"answer": followUpErrorAnswer})
		}
		return
	}
	common.OK(c, res)
}

func (h *Handler) History(c *gin.Context) {
	id, ok := identityFromContext(c)
	if !ok {
		return
	}
	items, err := h.ChatSvc.History(c.Request.Context(), id.KeyCode)
	if err != nil {
		storeFail(c, err, "")
		return
	}
	common.OK(c, items)
}

// providerMessage is the user-facing text of a failed model call.
func providerMessage(c *gin.Context, keyCode string, err error) string {
	log.Printf("ai call failed request_id=%s key=%s err=%v", c.GetString(middleware.RequestIDKey), keyCode, err)

	var pe *ai.ProviderError
	switch {
	case errors.As(err, &pe):
		return pe.Message
	case errors.Is(err, ai.ErrInvalidResponse):
		return ai.ErrInvalidResponse.Error()
	default:
		return "AI service unavailable"
	}
}
