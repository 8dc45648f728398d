package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"codesync-api/internal/service"
)

// RoomHandler mantiene dependencias para endpoints de salas.
type RoomHandler struct {
	logger      *zap.Logger
	accountServ *service.AccountService
}

func NewRoomHandler(logger *zap.Logger, accountServ *service.AccountService) *RoomHandler {
	return &RoomHandler{
		logger:      logger,
		accountServ: accountServ,
	}
}

// JoinRoom maneja POST /rooms/join. Sobrescribe la sala anterior:
// last-writer-wins entre dispositivos de la misma cuenta.
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	var req struct {
		RoomID string `json:"room_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid join room request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	user, err := h.accountServ.JoinRoom(c.Request.Context(), claims.UserID, req.RoomID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.logger.Error("join room failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not join room"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// LeaveRoom maneja POST /rooms/leave.
func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	user, err := h.accountServ.LeaveRoom(c.Request.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.logger.Error("leave room failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not leave room"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}
