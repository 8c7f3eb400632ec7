package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-admission-api/internal/models"
	"github.com/noah-isme/sma-admission-api/internal/service"
	appErrors "github.com/noah-isme/sma-admission-api/pkg/errors"
	"github.com/noah-isme/sma-admission-api/pkg/response"
)

type accountService interface {
	Provision(ctx context.Context, req service.ProvisionAccountRequest, actor *models.JWTClaims) (*models.AccountInfo, error)
	ResetSecret(ctx context.Context, accountID string, req service.ResetSecretRequest, actor *models.JWTClaims) error
}

// AccountHandler exposes account administration.
type AccountHandler struct {
	service accountService
}

// NewAccountHandler constructs AccountHandler.
func NewAccountHandler(svc accountService) *AccountHandler {
	return &AccountHandler{service: svc}
}

// Provision godoc
// @Summary Provision account
// @Tags Accounts
// @Accept json
// @Produce json
// @Param payload body service.ProvisionAccountRequest true "Account"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /accounts [post]
func (h *AccountHandler) Provision(c *gin.Context) {
	var req service.ProvisionAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid account payload"))
		return
	}
	info, err := h.service.Provision(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, info)
}

// ResetPassword godoc
// @Summary Reset account password
// @Tags Accounts
// @Accept json
// @Produce json
// @Param id path string true "Account ID"
// @Param payload body service.ResetSecretRequest true "New password"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /accounts/{id}/password [put]
func (h *AccountHandler) ResetPassword(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req service.ResetSecretRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid password payload"))
		return
	}
	if err := h.service.ResetSecret(c.Request.Context(), id, req, claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
