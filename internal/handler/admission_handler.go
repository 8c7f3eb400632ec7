package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-admission-api/internal/models"
	"github.com/noah-isme/sma-admission-api/internal/service"
	appErrors "github.com/noah-isme/sma-admission-api/pkg/errors"
	"github.com/noah-isme/sma-admission-api/pkg/response"
)

type admissionService interface {
	Submit(ctx context.Context, req service.SubmitApplicantRequest) (*models.Applicant, error)
	Review(ctx context.Context, id string, req service.ReviewApplicantRequest, actor *models.JWTClaims) (*models.Applicant, error)
	Accept(ctx context.Context, id string, req service.AcceptApplicantRequest, actor *models.JWTClaims) (*models.Admission, error)
	Reject(ctx context.Context, id string, actor *models.JWTClaims) (*models.Applicant, error)
	LookupStatus(ctx context.Context, email string) (*models.ApplicantStatusView, error)
	Get(ctx context.Context, id string) (*models.ApplicantDetail, error)
	List(ctx context.Context, filter models.ApplicantFilter) ([]models.ApplicantDetail, *models.Pagination, error)
}

// AdmissionHandler exposes the applicant lifecycle.
type AdmissionHandler struct {
	service admissionService
}

// NewAdmissionHandler constructs AdmissionHandler.
func NewAdmissionHandler(svc admissionService) *AdmissionHandler {
	return &AdmissionHandler{service: svc}
}

// Submit godoc
// @Summary Submit registration
// @Description Public endpoint for prospective students
// @Tags Admissions
// @Accept json
// @Produce json
// @Param payload body service.SubmitApplicantRequest true "Registration"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admissions [post]
func (h *AdmissionHandler) Submit(c *gin.Context) {
	var req service.SubmitApplicantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid registration payload"))
		return
	}
	applicant, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, applicant)
}

// Status godoc
// @Summary Look up registration status
// @Tags Admissions
// @Produce json
// @Param email query string true "Registration email"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admissions/status [get]
func (h *AdmissionHandler) Status(c *gin.Context) {
	view, err := h.service.LookupStatus(c.Request.Context(), strings.TrimSpace(c.Query("email")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// List godoc
// @Summary List applicants
// @Tags Admissions
// @Produce json
// @Param termId query string false "Filter by term"
// @Param state query string false "SUBMITTED, ACCEPTED or REJECTED"
// @Param documentStatus query string false "PENDING, COMPLETE or INCOMPLETE"
// @Param search query string false "Search by name or email"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /admissions [get]
func (h *AdmissionHandler) List(c *gin.Context) {
	termID, ok := uuidQuery(c, "termId")
	if !ok {
		return
	}
	filter := models.ApplicantFilter{
		TermID:         termID,
		State:          models.ApplicantState(strings.ToUpper(c.Query("state"))),
		DocumentStatus: models.DocumentStatus(strings.ToUpper(c.Query("documentStatus"))),
		Search:         strings.TrimSpace(c.Query("search")),
		SortBy:         c.Query("sort"),
		SortOrder:      c.Query("order"),
	}
	filter.Page, filter.PageSize = pageParams(c)

	items, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get applicant
// @Tags Admissions
// @Produce json
// @Param id path string true "Applicant ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admissions/{id} [get]
func (h *AdmissionHandler) Get(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	detail, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Review godoc
// @Summary Review applicant
// @Description Patch identity fields and document or payment status of a submitted applicant
// @Tags Admissions
// @Accept json
// @Produce json
// @Param id path string true "Applicant ID"
// @Param payload body service.ReviewApplicantRequest true "Patch"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admissions/{id} [patch]
func (h *AdmissionHandler) Review(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req service.ReviewApplicantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid review payload"))
		return
	}
	applicant, err := h.service.Review(c.Request.Context(), id, req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, applicant, nil)
}

// Accept godoc
// @Summary Accept applicant
// @Description Converts the applicant into a student with a login account
// @Tags Admissions
// @Accept json
// @Produce json
// @Param id path string true "Applicant ID"
// @Param payload body service.AcceptApplicantRequest false "Initial password"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admissions/{id}/accept [post]
func (h *AdmissionHandler) Accept(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	// the body is optional; an absent or empty one keeps the default password
	var req service.AcceptApplicantRequest
	if c.Request.Body != nil && c.Request.Body != http.NoBody {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid accept payload"))
			return
		}
	}
	admission, err := h.service.Accept(c.Request.Context(), id, req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, admission)
}

// Reject godoc
// @Summary Reject applicant
// @Tags Admissions
// @Produce json
// @Param id path string true "Applicant ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admissions/{id}/reject [post]
func (h *AdmissionHandler) Reject(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	applicant, err := h.service.Reject(c.Request.Context(), id, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, applicant, nil)
}
