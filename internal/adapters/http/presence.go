package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type PresenceHandler struct {
	Registry *app.Registry
	// Store answers for users the registry no longer holds. Optional.
	Store core.UserStore
}

type PresenceResponse struct {
	UserID   domain.UserID `json:"userId"`
	Status   domain.Status `json:"status"`
	LastSeen *time.Time    `json:"lastSeen"`
}

func (h *PresenceHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.Registry.Snapshot())
}

func (h *PresenceHandler) Get(c *gin.Context) {
	uid, err := domain.NewUserID(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if entry, ok := h.Registry.Lookup(uid); ok {
		c.JSON(http.StatusOK, PresenceResponse{UserID: entry.UserID, Status: entry.Status, LastSeen: entry.LastSeen})
		return
	}
	if h.Store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": domain.ErrUserNotFound.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	st, err := h.Store.GetUserStatus(ctx, uid)
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		log.Error().Err(err).Str("module", "adapters.http").Str("user", string(uid)).Msg("store lookup")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
	default:
		c.JSON(http.StatusOK, PresenceResponse{UserID: st.ID, Status: st.Status, LastSeen: st.LastSeen})
	}
}
