package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/edusys-id/sekolah-api/internal/models"
	"github.com/edusys-id/sekolah-api/internal/service"
	appErrors "github.com/edusys-id/sekolah-api/pkg/errors"
	"github.com/edusys-id/sekolah-api/pkg/response"
)

// ClassHandler exposes class endpoints.
type ClassHandler struct {
	classes *service.ClassService
}

// NewClassHandler constructs ClassHandler.
func NewClassHandler(classes *service.ClassService) *ClassHandler {
	return &ClassHandler{classes: classes}
}

// List godoc
// @Summary List classes
// @Tags Classes
// @Produce json
// @Param academicYear query string false "Filter by academic year"
// @Param level query int false "Filter by level"
// @Param search query string false "Search by name"
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /classes [get]
func (h *ClassHandler) List(c *gin.Context) {
	var filter models.ClassFilter
	filter.AcademicYear = c.Query("academicYear")
	filter.Search = strings.TrimSpace(c.Query("search"))
	if level, err := strconv.Atoi(c.Query("level")); err == nil {
		filter.Level = level
	}

	classes, err := h.classes.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, classes, nil)
}

// Get godoc
// @Summary Get class detail
// @Tags Classes
// @Produce json
// @Param id path string true "Class ID"
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /classes/{id} [get]
func (h *ClassHandler) Get(c *gin.Context) {
	class, err := h.classes.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, class, nil)
}

// Create godoc
// @Summary Create class
// @Tags Classes
// @Accept json
// @Produce json
// @Param payload body service.CreateClassRequest true "Class payload"
// @Security BearerAuth
// @Success 201 {object} response.Envelope
// @Router /classes [post]
func (h *ClassHandler) Create(c *gin.Context) {
	var req service.CreateClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	class, err := h.classes.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, class)
}

// ReassignRollNumbers godoc
// @Summary Resynchronise roll numbers for a class
// @Description Renumbers active students 1..N by name. Idempotent; converges from any intermediate state.
// @Tags Classes
// @Produce json
// @Param id path string true "Class ID"
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/roll-numbers/reassign [post]
func (h *ClassHandler) ReassignRollNumbers(c *gin.Context) {
	id := c.Param("id")
	if err := h.classes.ReassignRollNumbers(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"class_id": id, "reassigned": true}, nil)
}
