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

type billingService interface {
	CreateTariff(ctx context.Context, req service.CreateTariffRequest) (*models.Tariff, error)
	ListTariffs(ctx context.Context, termID string) ([]models.Tariff, error)
	CreateCharge(ctx context.Context, req service.CreateChargeRequest) (*models.Charge, error)
	GenerateCharges(ctx context.Context, req service.GenerateChargesRequest) (*service.GenerateChargesResult, error)
	RecordPayment(ctx context.Context, chargeID string, req service.RecordPaymentRequest, actor *models.JWTClaims) (*service.PaymentReceipt, error)
	ListPaymentsForCharge(ctx context.Context, caller *models.JWTClaims, chargeID string) ([]models.Payment, error)
	ListChargesForStudent(ctx context.Context, caller *models.JWTClaims, studentID string) ([]models.ChargeDetail, error)
	ListPaymentsForStudent(ctx context.Context, caller *models.JWTClaims, studentID string) ([]models.PaymentDetail, error)
	ComputeSettlement(ctx context.Context, caller *models.JWTClaims, studentID, tariffID string) (*models.Settlement, error)
}

// BillingHandler exposes tariffs, charges and payments.
type BillingHandler struct {
	service billingService
}

// NewBillingHandler constructs BillingHandler.
func NewBillingHandler(svc billingService) *BillingHandler {
	return &BillingHandler{service: svc}
}

// CreateTariff godoc
// @Summary Create tariff
// @Tags Billing
// @Accept json
// @Produce json
// @Param payload body service.CreateTariffRequest true "Tariff"
// @Success 201 {object} response.Envelope
// @Router /tariffs [post]
func (h *BillingHandler) CreateTariff(c *gin.Context) {
	var req service.CreateTariffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid tariff payload"))
		return
	}
	tariff, err := h.service.CreateTariff(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, tariff)
}

// ListTariffs godoc
// @Summary List tariffs
// @Tags Billing
// @Produce json
// @Param termId query string false "Filter by term"
// @Success 200 {object} response.Envelope
// @Router /tariffs [get]
func (h *BillingHandler) ListTariffs(c *gin.Context) {
	termID, ok := uuidQuery(c, "termId")
	if !ok {
		return
	}
	tariffs, err := h.service.ListTariffs(c.Request.Context(), termID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tariffs, nil)
}

// CreateCharge godoc
// @Summary Charge a student
// @Tags Billing
// @Accept json
// @Produce json
// @Param payload body service.CreateChargeRequest true "Charge"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /charges [post]
func (h *BillingHandler) CreateCharge(c *gin.Context) {
	var req service.CreateChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid charge payload"))
		return
	}
	charge, err := h.service.CreateCharge(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, charge)
}

// GenerateCharges godoc
// @Summary Charge every active student of a class
// @Tags Billing
// @Accept json
// @Produce json
// @Param payload body service.GenerateChargesRequest true "Class and tariff"
// @Success 200 {object} response.Envelope
// @Router /charges/generate [post]
func (h *BillingHandler) GenerateCharges(c *gin.Context) {
	var req service.GenerateChargesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid generate payload"))
		return
	}
	result, err := h.service.GenerateCharges(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// RecordPayment godoc
// @Summary Record payment
// @Tags Billing
// @Accept json
// @Produce json
// @Param id path string true "Charge ID"
// @Param payload body service.RecordPaymentRequest true "Payment"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /charges/{id}/payments [post]
func (h *BillingHandler) RecordPayment(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req service.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payment payload"))
		return
	}
	receipt, err := h.service.RecordPayment(c.Request.Context(), id, req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, receipt)
}

// ChargePayments godoc
// @Summary List payments of a charge
// @Tags Billing
// @Produce json
// @Param id path string true "Charge ID"
// @Success 200 {object} response.Envelope
// @Router /charges/{id}/payments [get]
func (h *BillingHandler) ChargePayments(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	payments, err := h.service.ListPaymentsForCharge(c.Request.Context(), claimsFromContext(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payments, nil)
}

// StudentCharges godoc
// @Summary List a student's charges with settlement labels
// @Tags Billing
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /students/{id}/charges [get]
func (h *BillingHandler) StudentCharges(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	items, err := h.service.ListChargesForStudent(c.Request.Context(), claimsFromContext(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// StudentPayments godoc
// @Summary List a student's payments
// @Tags Billing
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/payments [get]
func (h *BillingHandler) StudentPayments(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	items, err := h.service.ListPaymentsForStudent(c.Request.Context(), claimsFromContext(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Settlement godoc
// @Summary Settlement of a student for a tariff
// @Tags Billing
// @Produce json
// @Param id path string true "Student ID"
// @Param tariffId path string true "Tariff ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/settlements/{tariffId} [get]
func (h *BillingHandler) Settlement(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	tariffID, ok := uuidParam(c, "tariffId")
	if !ok {
		return
	}
	settlement, err := h.service.ComputeSettlement(c.Request.Context(), claimsFromContext(c), id, tariffID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, settlement, nil)
}
