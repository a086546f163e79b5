package v1

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/riverchat/riverchat/server/middleware"
	"github.com/riverchat/riverchat/store"
)

// maxTitleLength caps user-supplied chat titles.
const maxTitleLength = 120

type createChatRequest struct {
	Title string `json:"title"`
}

type chatResponse struct {
	UID       string `json:"uid"`
	Title     string `json:"title"`
	CreatedTs int64  `json:"createdTs"`
	UpdatedTs int64  `json:"updatedTs"`
}

type messageResponse struct {
	UID       string  `json:"uid"`
	Role      string  `json:"role"`
	Content   string  `json:"content"`
	TagUID    *string `json:"tagUid,omitempty"`
	CreatedTs int64   `json:"createdTs"`
}

func convertChat(chat *store.Chat) *chatResponse {
	return &chatResponse{
		UID:       chat.UID,
		Title:     chat.Title,
		CreatedTs: chat.CreatedTs,
		UpdatedTs: chat.UpdatedTs,
	}
}

func convertMessage(msg *store.Message) *messageResponse {
	return &messageResponse{
		UID:       msg.UID,
		Role:      string(msg.Role),
		Content:   msg.Content,
		TagUID:    msg.TagUID,
		CreatedTs: msg.CreatedTs,
	}
}

// CreateChat creates an empty chat for the caller.
func (s *APIV1Service) CreateChat(c echo.Context) error {
	userID := middleware.UserIDFromContext(c)

	req := &createChatRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "New chat"
	}
	if len(title) > maxTitleLength {
		title = title[:maxTitleLength]
	}

	chat, err := s.store.CreateChat(c.Request().Context(), &store.Chat{
		CreatorID: userID,
		Title:     title,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, convertChat(chat))
}

// ListChats lists the caller's chats, most recently active first.
func (s *APIV1Service) ListChats(c echo.Context) error {
	userID := middleware.UserIDFromContext(c)

	chats, err := s.store.ListChats(c.Request().Context(), userID)
	if err != nil {
		return httpError(err)
	}

	list := make([]*chatResponse, 0, len(chats))
	for _, chat := range chats {
		list = append(list, convertChat(chat))
	}
	return c.JSON(http.StatusOK, list)
}

// DeleteChat removes one of the caller's chats along with its messages.
func (s *APIV1Service) DeleteChat(c echo.Context) error {
	ctx := c.Request().Context()
	userID := middleware.UserIDFromContext(c)
	chatUID := c.Param("uid")

	owned, err := s.store.IsChatOwnedBy(ctx, chatUID, userID)
	if err != nil {
		return httpError(err)
	}
	if !owned {
		return echo.NewHTTPError(http.StatusForbidden, "chat not found or not owned by caller")
	}

	if err := s.store.DeleteChat(ctx, chatUID, userID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListMessages lists a chat's messages in conversation order.
func (s *APIV1Service) ListMessages(c echo.Context) error {
	ctx := c.Request().Context()
	userID := middleware.UserIDFromContext(c)
	chatUID := c.Param("uid")

	owned, err := s.store.IsChatOwnedBy(ctx, chatUID, userID)
	if err != nil {
		return httpError(err)
	}
	if !owned {
		return echo.NewHTTPError(http.StatusForbidden, "chat not found or not owned by caller")
	}

	msgs, err := s.store.ListMessages(ctx, chatUID)
	if err != nil {
		return httpError(err)
	}

	list := make([]*messageResponse, 0, len(msgs))
	for _, msg := range msgs {
		list = append(list, convertMessage(msg))
	}
	return c.JSON(http.StatusOK, list)
}
