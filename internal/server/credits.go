package server

import (
	"net/http"

	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	consumptiondomain "github.com/smallbiznis/kredit/internal/consumption/domain"
	grantdomain "github.com/smallbiznis/kredit/internal/grant/domain"
	"github.com/smallbiznis/kredit/internal/orgcontext"
	usagedomain "github.com/smallbiznis/kredit/internal/usage/domain"
)

func parsePageSize(raw string) int {
	size, err := strconv.Atoi(raw)
	if err != nil || size < 0 {
		return 0
	}
	return size
}

func requestOrgID(c *gin.Context) (snowflake.ID, bool) {
	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return 0, false
	}
	return orgID, true
}

func (s *Server) Consume(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}

	var req consumptiondomain.ConsumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.OrgID = orgID

	result, err := s.consumption.Consume(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) GetBalance(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}

	balance, err := s.consumption.GetBalance(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

func (s *Server) ListGrants(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}

	resp, err := s.grants.List(c.Request.Context(), grantdomain.ListGrantsRequest{
		OrgID:     orgID,
		GrantType: c.Query("grant_type"),
		PageToken: c.Query("page_token"),
		PageSize:  parsePageSize(c.Query("page_size")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) ListUsage(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}

	resp, err := s.usage.List(c.Request.Context(), usagedomain.ListRequest{
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
