package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-admission-api/internal/models"
	"github.com/noah-isme/sma-admission-api/internal/service"
	appErrors "github.com/noah-isme/sma-admission-api/pkg/errors"
)

type studentServiceMock struct {
	filter    models.StudentFilter
	createReq service.CreateStudentRequest
	createErr error
	getErr    error
}

func (m *studentServiceMock) List(_ context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	m.filter = filter
	return []models.Student{{ID: "s-1"}}, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: 1}, nil
}

func (m *studentServiceMock) Get(_ context.Context, id string) (*models.Student, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return &models.Student{ID: id}, nil
}

func (m *studentServiceMock) Create(_ context.Context, req service.CreateStudentRequest) (*models.Student, error) {
	m.createReq = req
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &models.Student{ID: "s-new", NIS: req.NIS}, nil
}

type termServiceMock struct {
	activeOnly bool
}

func (m *termServiceMock) List(_ context.Context, activeOnly bool) ([]models.Term, error) {
	m.activeOnly = activeOnly
	return []models.Term{{ID: "term-1"}}, nil
}

func TestStudentHandlerListParsesFilter(t *testing.T) {
	mockSvc := &studentServiceMock{}
	h := NewStudentHandler(mockSvc)

	c, w := newTestContext(http.MethodGet, "/students?search=%20budi%20&classId="+classID+"&active=true&page=2&limit=5", "")
	h.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "budi", mockSvc.filter.Search)
	assert.Equal(t, classID, mockSvc.filter.ClassID)
	require.NotNil(t, mockSvc.filter.Active)
	assert.True(t, *mockSvc.filter.Active)
}

func TestStudentHandlerGetNotFound(t *testing.T) {
	h := NewStudentHandler(&studentServiceMock{getErr: appErrors.Clone(appErrors.ErrNotFound, "student not found")})

	c, w := newTestContext(http.MethodGet, "/students/missing", "")
	c.Params = gin.Params{{Key: "id", Value: studentID}}
	h.Get(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, w))
}

func TestStudentHandlerCreate(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		mockSvc := &studentServiceMock{}
		h := NewStudentHandler(mockSvc)

		c, w := newTestContext(http.MethodPost, "/students", `{"nis":"20260099","full_name":"Budi","gender":"M"}`)
		h.Create(c)

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "20260099", mockSvc.createReq.NIS)
	})

	t.Run("malformed body", func(t *testing.T) {
		h := NewStudentHandler(&studentServiceMock{})

		c, w := newTestContext(http.MethodPost, "/students", `{"nis":`)
		h.Create(c)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "VALIDATION_ERROR", decodeError(t, w))
	})

	t.Run("duplicate nis", func(t *testing.T) {
		h := NewStudentHandler(&studentServiceMock{createErr: appErrors.Clone(appErrors.ErrConflict, "nis already used")})

		c, w := newTestContext(http.MethodPost, "/students", `{"nis":"1","full_name":"Budi","gender":"M"}`)
		h.Create(c)

		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestTermHandlerListActiveOnly(t *testing.T) {
	mockSvc := &termServiceMock{}
	h := NewTermHandler(mockSvc)

	c, w := newTestContext(http.MethodGet, "/terms?isActive=true", "")
	h.List(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, mockSvc.activeOnly)
}

func TestStudentHandlerRejectsMalformedIDs(t *testing.T) {
	h := NewStudentHandler(&studentServiceMock{})

	c, w := newTestContext(http.MethodGet, "/students/abc", "")
	c.Params = gin.Params{{Key: "id", Value: "abc"}}
	h.Get(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"uuid"`)

	c, w = newTestContext(http.MethodGet, "/students?classId=abc", "")
	h.List(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"classId":"uuid"`)
}
