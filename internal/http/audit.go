package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mrlokans/secrets/internal/auth"
	auditrepo "github.com/mrlokans/secrets/internal/database/audit"
	"github.com/mrlokans/secrets/internal/entities"
)

// AuditReader lists recorded audit events.
type AuditReader interface {
	GetEvents(ctx context.Context, filter auditrepo.Filter, limit, offset int) ([]entities.AuditEvent, int64, error)
}

// AuditController shows a user the activity recorded against their account.
type AuditController struct {
	reader AuditReader
	logger *zap.Logger
}

func NewAuditController(reader AuditReader, logger *zap.Logger) *AuditController {
	return &AuditController{
		reader: reader,
		logger: logger,
	}
}

// GetAuditEvents returns the signed-in user's paginated audit events as JSON
// GET /api/audit
func (ac *AuditController) GetAuditEvents(c *gin.Context) {
	user := auth.CurrentUser(c)
	if user == nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "25"))

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 25
	}
	offset := (page - 1) * limit

	filter := auditrepo.Filter{
		UserID:    user.ID.String(),
		EventType: entities.AuditEventType(c.Query("type")),
	}

	events, total, err := ac.reader.GetEvents(c.Request.Context(), filter, limit, offset)
	if err != nil {
		ac.logger.Error("failed to load audit events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load audit events",
		})
		return
	}

	totalPages := (int(total) + limit - 1) / limit
	if totalPages < 1 {
		totalPages = 1
	}

	c.JSON(http.StatusOK, gin.H{
		"events":       events,
		"page":         page,
		"limit":        limit,
		"total_pages":  totalPages,
		"total_events": total,
	})
}
