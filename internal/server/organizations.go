package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	organizationdomain "github.com/smallbiznis/kredit/internal/organization/domain"
)

func (s *Server) CreateOrganization(c *gin.Context) {
	var req organizationdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	organization, err := s.organizations.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, organization)
}

func (s *Server) GetOrganization(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}

	organization, err := s.organizations.Get(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, organization)
}
