package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/afms/internal/cqrs"
	"example.com/afms/internal/rules"
)

// AdminHandler handles operational endpoints: rule cache invalidation and
// projection rebuilds.
type AdminHandler struct {
	engine     *rules.Engine
	readModels *cqrs.ReadModelManager
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(engine *rules.Engine, readModels *cqrs.ReadModelManager) *AdminHandler {
	return &AdminHandler{
		engine:     engine,
		readModels: readModels,
	}
}

// HandleClearRuleCache drops the cached rule sets so edits take effect
// immediately instead of at TTL expiry.
func (h *AdminHandler) HandleClearRuleCache(c *gin.Context) {
	h.engine.ClearCache()
	log.Info().Msg("Rule cache cleared via API")
	c.JSON(http.StatusOK, gin.H{"status": "cache cleared"})
}

// HandleRebuildProjection rebuilds one projection from the event store.
// Runs synchronously; rebuilds are rare and operator-initiated.
func (h *AdminHandler) HandleRebuildProjection(c *gin.Context) {
	name := c.Param("name")

	if err := h.readModels.RebuildProjection(c.Request.Context(), name); err != nil {
		log.Error().Err(err).Str("projection", name).Msg("Projection rebuild failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "rebuilt", "projection": name})
}

// RegisterRoutes registers the handler's routes
func (h *AdminHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/rules/cache/clear", h.HandleClearRuleCache)
	group.POST("/projections/:name/rebuild", h.HandleRebuildProjection)
}
