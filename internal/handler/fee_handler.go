package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edusys-id/sekolah-api/internal/models"
	"github.com/edusys-id/sekolah-api/internal/service"
	appErrors "github.com/edusys-id/sekolah-api/pkg/errors"
	"github.com/edusys-id/sekolah-api/pkg/response"
)

// FeeHandler exposes fee ledger endpoints.
type FeeHandler struct {
	fees *service.FeeService
}

// NewFeeHandler constructs FeeHandler.
func NewFeeHandler(fees *service.FeeService) *FeeHandler {
	return &FeeHandler{fees: fees}
}

func feeFilterFromQuery(c *gin.Context) models.FeeFilter {
	var filter models.FeeFilter
	filter.StudentID = c.Query("studentId")
	filter.ClassID = c.Query("classId")
	filter.Status = c.Query("status")
	filter.AcademicTerm = c.Query("term")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	return filter
}

// InitializeForClass godoc
// @Summary Initialize term fees for a class
// @Description Creates one pending fee per active student of the class not yet billed for the term.
// @Tags Fees
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param payload body service.InitializeFeesRequest true "Initialization payload"
// @Security BearerAuth
// @Success 201 {object} response.Envelope
// @Router /classes/{id}/fees [post]
func (h *FeeHandler) InitializeForClass(c *gin.Context) {
	var req service.InitializeFeesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	fees, err := h.fees.InitializeForClass(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, fees)
}

// List godoc
// @Summary List fees
// @Tags Fees
// @Produce json
// @Param studentId query string false "Filter by student"
// @Param classId query string false "Filter by class"
// @Param status query string false "Filter by status (pending, partial, paid, overdue)"
// @Param term query string false "Filter by academic term"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /fees [get]
func (h *FeeHandler) List(c *gin.Context) {
	fees, pagination, err := h.fees.List(c.Request.Context(), feeFilterFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, fees, pagination)
}

// Get godoc
// @Summary Get fee with ledger history
// @Tags Fees
// @Produce json
// @Param id path string true "Fee ID"
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /fees/{id} [get]
func (h *FeeHandler) Get(c *gin.Context) {
	detail, err := h.fees.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// RecordPayment godoc
// @Summary Record a payment against a fee
// @Tags Fees
// @Accept json
// @Produce json
// @Param id path string true "Fee ID"
// @Param payload body service.RecordPaymentRequest true "Payment payload"
// @Security BearerAuth
// @Success 201 {object} response.Envelope
// @Router /fees/{id}/payments [post]
func (h *FeeHandler) RecordPayment(c *gin.Context) {
	var req service.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.fees.RecordPayment(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// ListPayments godoc
// @Summary List payments of a fee
// @Tags Fees
// @Produce json
// @Param id path string true "Fee ID"
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /fees/{id}/payments [get]
func (h *FeeHandler) ListPayments(c *gin.Context) {
	payments, err := h.fees.ListPayments(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payments, nil)
}

// ApplyDiscount godoc
// @Summary Apply a discount to a fee
// @Tags Fees
// @Accept json
// @Produce json
// @Param id path string true "Fee ID"
// @Param payload body service.ApplyDiscountRequest true "Discount payload"
// @Security BearerAuth
// @Success 201 {object} response.Envelope
// @Router /fees/{id}/discounts [post]
func (h *FeeHandler) ApplyDiscount(c *gin.Context) {
	var req service.ApplyDiscountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	fee, err := h.fees.ApplyDiscount(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, fee)
}

// Summary godoc
// @Summary Aggregate fee collection summary
// @Tags Fees
// @Produce json
// @Param classId query string false "Filter by class"
// @Param studentId query string false "Filter by student"
// @Param status query string false "Filter by status"
// @Param term query string false "Filter by academic term"
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /fees/summary [get]
func (h *FeeHandler) Summary(c *gin.Context) {
	summary, err := h.fees.Summary(c.Request.Context(), feeFilterFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// SweepOverdue godoc
// @Summary Flag fees past their due date as overdue
// @Tags Fees
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /fees/overdue/sweep [post]
func (h *FeeHandler) SweepOverdue(c *gin.Context) {
	flagged, err := h.fees.SweepOverdue(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"flagged": flagged}, nil)
}

// ExportCollections godoc
// @Summary Export fee collections as CSV
// @Tags Fees
// @Produce text/csv
// @Param classId query string false "Filter by class"
// @Param status query string false "Filter by status"
// @Param term query string false "Filter by academic term"
// @Security BearerAuth
// @Success 200 {file} file
// @Router /fees/export [get]
func (h *FeeHandler) ExportCollections(c *gin.Context) {
	data, err := h.fees.ExportCollections(c.Request.Context(), feeFilterFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := fmt.Sprintf("fee-collections-%s.csv", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv", data)
}

// Receipt godoc
// @Summary Download a PDF receipt for a payment
// @Tags Fees
// @Produce application/pdf
// @Param id path string true "Fee ID"
// @Param paymentId path string true "Payment ID"
// @Security BearerAuth
// @Success 200 {file} file
// @Router /fees/{id}/payments/{paymentId}/receipt [get]
func (h *FeeHandler) Receipt(c *gin.Context) {
	data, err := h.fees.RenderReceipt(c.Request.Context(), c.Param("id"), c.Param("paymentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=\"receipt.pdf\"")
	c.Data(http.StatusOK, "application/pdf", data)
}
