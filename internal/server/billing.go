package server

import (
	"io"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/kredit/internal/observability/logger"
	organizationdomain "github.com/smallbiznis/kredit/internal/organization/domain"
	"github.com/smallbiznis/kredit/internal/providers/billing"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// HandleBillingWebhook verifies and applies one provider delivery. A
// non-2xx response makes the provider redeliver, so only genuinely
// retryable failures return an error status.
func (s *Server) HandleBillingWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	event, err := s.billing.DecodeWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		logger.WithContext(c.Request.Context(), s.log).Warn("webhook signature rejected",
			zap.Error(err),
		)
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.synchronizer.HandleEvent(c.Request.Context(), event); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// GetCatalog lists the purchasable plans and credit packages.
func (s *Server) GetCatalog(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"currency": s.catalog.Currency,
		"plans":    s.catalog.Plans(),
		"topups":   s.catalog.TopUps(),
	})
}

type createCheckoutRequest struct {
	PriceRef   string `json:"price_ref"`
	PlanCode   string `json:"plan_code"`
	TopUpCode  string `json:"topup_code"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

// resolvePrice maps the request onto a catalog price and checkout mode.
func (s *Server) resolvePrice(req createCheckoutRequest) (priceRef, mode, productType string, ok bool) {
	switch {
	case req.PlanCode != "":
		plan, found := s.catalog.PlanByCode(req.PlanCode)
		if !found {
			return "", "", "", false
		}
		return plan.BasePriceRef, "subscription", "subscription", true
	case req.TopUpCode != "":
		topUp, found := s.catalog.TopUpByCode(req.TopUpCode)
		if !found {
			return "", "", "", false
		}
		return topUp.PriceRef, "payment", "topup", true
	case req.PriceRef != "":
		if plan, found := s.catalog.PlanByPriceRef(req.PriceRef); found {
			return plan.BasePriceRef, "subscription", "subscription", true
		}
		if topUp, found := s.catalog.TopUpByPriceRef(req.PriceRef); found {
			return topUp.PriceRef, "payment", "topup", true
		}
		return "", "", "", false
	default:
		return "", "", "", false
	}
}

func (s *Server) CreateCheckoutSession(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}

	var req createCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	priceRef, mode, productType, ok := s.resolvePrice(req)
	if !ok || req.SuccessURL == "" || req.CancelURL == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	customerRef, _, err := s.ensureBillingCustomer(c, orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	session, err := s.billing.CreateCheckoutSession(c.Request.Context(), billing.CheckoutParams{
		CustomerRef:    customerRef,
		PriceRef:       priceRef,
		Mode:           mode,
		SuccessURL:     req.SuccessURL,
		CancelURL:      req.CancelURL,
		OrganizationID: orgID.String(),
		ProductType:    productType,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

type createPortalRequest struct {
	ReturnURL string `json:"return_url"`
}

func (s *Server) CreatePortalSession(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}

	var req createPortalRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ReturnURL == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	customerRef, _, err := s.ensureBillingCustomer(c, orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	url, err := s.billing.CreatePortalSession(c.Request.Context(), customerRef, req.ReturnURL)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// ensureBillingCustomer resolves the tenant's provider customer ref,
// creating and persisting one on first use.
func (s *Server) ensureBillingCustomer(c *gin.Context, orgID snowflake.ID) (string, *organizationdomain.Organization, error) {
	ctx := c.Request.Context()

	organization, err := s.organizations.Get(ctx, orgID)
	if err != nil {
		return "", nil, err
	}

	existing := ""
	if organization.BillingCustomerID != nil {
		existing = *organization.BillingCustomerID
	}
	email := ""
	if organization.BillingEmail != nil {
		email = *organization.BillingEmail
	}

	customerRef, err := s.billing.EnsureCustomer(ctx, existing, organization.ID.String(), organization.Name, email)
	if err != nil {
		return "", nil, err
	}
	if customerRef != existing {
		if err := s.organizations.SetBillingCustomer(ctx, organization.ID, customerRef); err != nil {
			return "", nil, err
		}
	}
	return customerRef, organization, nil
}
