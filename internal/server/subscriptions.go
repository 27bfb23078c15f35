package server

import (
	"net/http"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	alertdomain "github.com/smallbiznis/kredit/internal/alert/domain"
	subscriptiondomain "github.com/smallbiznis/kredit/internal/subscription/domain"
)

func pathID(c *gin.Context, name string) (snowflake.ID, bool) {
	raw, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || raw <= 0 {
		AbortWithError(c, ErrInvalidRequest)
		return 0, false
	}
	return snowflake.ID(raw), true
}

func (s *Server) ListSubscriptions(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}

	subscriptions, err := s.subscriptions.List(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subscriptions})
}

func (s *Server) GetSubscription(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	subscription, err := s.subscriptions.Get(c.Request.Context(), orgID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, subscription)
}

func (s *Server) UpdateOverageSettings(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req subscriptiondomain.UpdateOverageSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.OrgID = orgID
	req.SubscriptionID = id

	subscription, err := s.subscriptions.UpdateOverageSettings(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, subscription)
}

// ListUsagePeriods returns a subscription's period history, newest first.
func (s *Server) ListUsagePeriods(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	// Ownership check before touching period rows.
	if _, err := s.subscriptions.Get(c.Request.Context(), orgID, id); err != nil {
		AbortWithError(c, err)
		return
	}

	periods, err := s.periods.ListBySubscriptionID(c.Request.Context(), s.db, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"periods": periods})
}

func (s *Server) GetAlertSettings(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if _, err := s.subscriptions.Get(c.Request.Context(), orgID, id); err != nil {
		AbortWithError(c, err)
		return
	}

	settings, err := s.alerts.GetSettings(c.Request.Context(), orgID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (s *Server) UpsertAlertSettings(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if _, err := s.subscriptions.Get(c.Request.Context(), orgID, id); err != nil {
		AbortWithError(c, err)
		return
	}

	var req alertdomain.UpsertSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.OrgID = orgID
	req.SubscriptionID = id

	settings, err := s.alerts.UpsertSettings(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (s *Server) ListAlerts(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}

	resp, err := s.alerts.List(c.Request.Context(), alertdomain.ListAlertsRequest{
		OrgID:     orgID,
		PageToken: c.Query("page_token"),
		PageSize:  parsePageSize(c.Query("page_size")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
