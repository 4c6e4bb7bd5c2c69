package bookings

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stallbook/internal/shared/utils/response"
	"stallbook/internal/users"
	"stallbook/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// UploadConfig controls where payment evidence files are written
type UploadConfig struct {
	Path    string
	MaxSize int64
}

type Controller struct {
	service Service
	upload  UploadConfig
}

func NewController(service Service, upload UploadConfig) *Controller {
	return &Controller{service: service, upload: upload}
}

// ReserveStall handles POST /api/v1/stalls/:id/reserve
func (c *Controller) ReserveStall(ctx *gin.Context) {
	userID, ok := currentUserID(ctx)
	if !ok {
		return
	}

	stallID, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid stall ID", nil, err.Error())
		return
	}

	booking, err := c.service.Reserve(ctx.Request.Context(), stallID, userID)
	if err != nil {
		c.respondError(ctx, err, "Failed to reserve stall")
		return
	}

	now := c.service.Policy().CurrentTime()
	response.RespondJSON(ctx, "success", http.StatusCreated, "Stall reserved successfully", NewBookingResponse(booking, nil, now), nil)
}

// GetBooking handles GET /api/v1/bookings/:id, :id may also be a booking reference
func (c *Controller) GetBooking(ctx *gin.Context) {
	userID, ok := currentUserID(ctx)
	if !ok {
		return
	}

	booking, ok := c.resolveBooking(ctx)
	if !ok {
		return
	}

	// Non-admin users can only see their own bookings
	if !isAdmin(ctx) && booking.UserID != userID {
		response.RespondJSON(ctx, "error", http.StatusForbidden, "Access denied", nil, nil)
		return
	}

	payment, err := c.service.GetPayment(ctx.Request.Context(), booking.ID)
	if err != nil && !errors.Is(err, ErrPaymentNotFound) {
		c.respondError(ctx, err, "Failed to load payment")
		return
	}

	now := c.service.Policy().CurrentTime()
	response.RespondJSON(ctx, "success", http.StatusOK, "Booking retrieved successfully", NewBookingResponse(booking, payment, now), nil)
}

// AttachPayment handles POST /api/v1/bookings/:id/payment
// Accepts a multipart "evidence" file or a JSON body carrying evidence_ref.
func (c *Controller) AttachPayment(ctx *gin.Context) {
	userID, ok := currentUserID(ctx)
	if !ok {
		return
	}

	booking, ok := c.resolveBooking(ctx)
	if !ok {
		return
	}
	if booking.UserID != userID {
		response.RespondJSON(ctx, "error", http.StatusForbidden, "Access denied", nil, nil)
		return
	}

	evidenceRef, stored, ok := c.readEvidence(ctx, booking.ID)
	if !ok {
		return
	}

	updated, err := c.service.AttachPayment(ctx.Request.Context(), booking.ID, evidenceRef)
	if err != nil {
		if stored {
			if rmErr := os.Remove(evidenceRef); rmErr != nil {
				logger.GetDefault().ErrorWithContext(ctx.Request.Context(), "failed to remove rejected evidence", rmErr, map[string]interface{}{
					"path": evidenceRef,
				})
			}
		}
		c.respondError(ctx, err, "Failed to attach payment")
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Payment submitted, awaiting approval", updated, nil)
}

// GetHoldPolicy handles GET /api/v1/bookings/policy
func (c *Controller) GetHoldPolicy(ctx *gin.Context) {
	policy := c.service.Policy()
	now := policy.CurrentTime()
	resp := HoldPolicyResponse{
		HoldDurationSeconds: int64(policy.Duration.Seconds()),
		HoldDuration:        policy.Duration.String(),
		ServerTime:          now,
	}

	if userID, ok := viewerID(ctx); ok {
		holds, err := c.service.ListBookings(ctx.Request.Context(), BookingListQuery{
			UserID: &userID,
			Status: string(StatusReserved),
			Limit:  100,
		})
		if err != nil {
			c.respondError(ctx, err, "Failed to load active holds")
			return
		}
		resp.ActiveHolds = make([]*BookingResponse, 0, len(holds.Bookings))
		for i := range holds.Bookings {
			resp.ActiveHolds = append(resp.ActiveHolds, NewBookingResponse(&holds.Bookings[i], nil, now))
		}
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Hold policy retrieved successfully", resp, nil)
}

// GetUserBookings handles GET /api/v1/users/bookings
func (c *Controller) GetUserBookings(ctx *gin.Context) {
	userID, ok := currentUserID(ctx)
	if !ok {
		return
	}

	var query BookingListQuery
	if err := ctx.ShouldBindQuery(&query); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid query parameters", nil, err.Error())
		return
	}
	query.UserID = &userID

	result, err := c.service.ListBookings(ctx.Request.Context(), query)
	if err != nil {
		c.respondError(ctx, err, "Failed to list bookings")
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "User bookings retrieved successfully", result, nil)
}

// ListBookings handles GET /api/v1/admin/bookings
func (c *Controller) ListBookings(ctx *gin.Context) {
	var query BookingListQuery
	if err := ctx.ShouldBindQuery(&query); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid query parameters", nil, err.Error())
		return
	}

	result, err := c.service.ListBookings(ctx.Request.Context(), query)
	if err != nil {
		c.respondError(ctx, err, "Failed to list bookings")
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Bookings retrieved successfully", result, nil)
}

// ApproveBooking handles POST /api/v1/admin/bookings/:id/approve
func (c *Controller) ApproveBooking(ctx *gin.Context) {
	adminID, ok := currentUserID(ctx)
	if !ok {
		return
	}

	booking, ok := c.resolveBooking(ctx)
	if !ok {
		return
	}

	approved, err := c.service.Approve(ctx.Request.Context(), booking.ID, adminID)
	if err != nil {
		c.respondError(ctx, err, "Failed to approve booking")
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Booking approved successfully", approved, nil)
}

// RejectBooking handles POST /api/v1/admin/bookings/:id/reject
func (c *Controller) RejectBooking(ctx *gin.Context) {
	adminID, ok := currentUserID(ctx)
	if !ok {
		return
	}

	var req RejectBookingRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
		return
	}

	booking, ok := c.resolveBooking(ctx)
	if !ok {
		return
	}

	rejected, err := c.service.Reject(ctx.Request.Context(), booking.ID, req.Reason, adminID)
	if err != nil {
		c.respondError(ctx, err, "Failed to reject booking")
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Booking rejected successfully", rejected, nil)
}

// DeleteBooking handles DELETE /api/v1/admin/bookings/:id
func (c *Controller) DeleteBooking(ctx *gin.Context) {
	booking, ok := c.resolveBooking(ctx)
	if !ok {
		return
	}

	if err := c.service.DeleteBooking(ctx.Request.Context(), booking.ID); err != nil {
		c.respondError(ctx, err, "Failed to delete booking")
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Booking deleted successfully", nil, nil)
}

// RunSweep handles POST /api/v1/admin/maintenance/sweep
func (c *Controller) RunSweep(ctx *gin.Context) {
	count, err := c.service.Sweep(ctx.Request.Context())
	if err != nil {
		c.respondError(ctx, err, "Sweep failed")
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Expired holds reclaimed", MaintenanceResponse{
		Operation: "sweep",
		Count:     int64(count),
	}, nil)
}

// ForceReturn handles POST /api/v1/admin/maintenance/force-return
func (c *Controller) ForceReturn(ctx *gin.Context) {
	count, err := c.service.ForceReturn(ctx.Request.Context())
	if err != nil {
		c.respondError(ctx, err, "Force return failed")
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Confirmed stalls returned", MaintenanceResponse{
		Operation: "force_return",
		Count:     count,
	}, nil)
}

func (c *Controller) resolveBooking(ctx *gin.Context) (*Booking, bool) {
	param := ctx.Param("id")

	var booking *Booking
	var err error
	if bookingID, parseErr := uuid.Parse(param); parseErr == nil {
		booking, err = c.service.GetBooking(ctx.Request.Context(), bookingID)
	} else if strings.HasPrefix(param, "BK-") {
		booking, err = c.service.GetBookingByRef(ctx.Request.Context(), param)
	} else {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid booking ID", nil, parseErr.Error())
		return nil, false
	}

	if err != nil {
		c.respondError(ctx, err, "Failed to load booking")
		return nil, false
	}
	return booking, true
}

// readEvidence returns the evidence reference and whether it was written to the upload dir.
// ok is false once an error response has been sent.
func (c *Controller) readEvidence(ctx *gin.Context, bookingID uuid.UUID) (ref string, stored bool, ok bool) {
	if strings.HasPrefix(ctx.ContentType(), "multipart/") {
		file, err := ctx.FormFile("evidence")
		if err != nil {
			response.RespondJSON(ctx, "error", http.StatusBadRequest, "Evidence file is required", nil, err.Error())
			return "", false, false
		}
		if c.upload.MaxSize > 0 && file.Size > c.upload.MaxSize {
			response.RespondJSON(ctx, "error", http.StatusRequestEntityTooLarge, "Evidence file too large", nil, map[string]interface{}{
				"max_size": c.upload.MaxSize,
			})
			return "", false, false
		}

		if err := os.MkdirAll(c.upload.Path, 0o755); err != nil {
			response.RespondJSON(ctx, "error", http.StatusInternalServerError, "Failed to store evidence", nil, err.Error())
			return "", false, false
		}
		name := fmt.Sprintf("%s-%d%s", bookingID, time.Now().UnixNano(), filepath.Ext(file.Filename))
		dst := filepath.Join(c.upload.Path, name)
		if err := ctx.SaveUploadedFile(file, dst); err != nil {
			response.RespondJSON(ctx, "error", http.StatusInternalServerError, "Failed to store evidence", nil, err.Error())
			return "", false, false
		}
		return dst, true, true
	}

	var req AttachPaymentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
		return "", false, false
	}
	return req.EvidenceRef, false, true
}

func (c *Controller) respondError(ctx *gin.Context, err error, message string) {
	statusCode := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrStallNotAvailable):
		statusCode = http.StatusConflict
	case errors.Is(err, ErrBookingAlreadyProcessed), errors.Is(err, ErrInvalidState), errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrInvalidQuery):
		statusCode = http.StatusBadRequest
	case IsNotFound(err):
		statusCode = http.StatusNotFound
	}

	if statusCode == http.StatusInternalServerError {
		logger.GetDefault().LogHTTPError(ctx, err, statusCode)
	}
	response.RespondJSON(ctx, "error", statusCode, message, nil, err.Error())
}

func currentUserID(ctx *gin.Context) (uuid.UUID, bool) {
	userIDInterface, exists := ctx.Get("user_id")
	if !exists {
		response.RespondJSON(ctx, "error", http.StatusUnauthorized, "User not authenticated", nil, nil)
		return uuid.Nil, false
	}

	userIDStr, ok := userIDInterface.(string)
	if !ok {
		response.RespondJSON(ctx, "error", http.StatusInternalServerError, "Invalid user ID format", nil, nil)
		return uuid.Nil, false
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid user ID", nil, nil)
		return uuid.Nil, false
	}
	return userID, true
}

// viewerID is the caller's id when an optional token was accepted
func viewerID(ctx *gin.Context) (uuid.UUID, bool) {
	raw, _ := ctx.Get("user_id")
	userIDStr, ok := raw.(string)
	if !ok {
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return uuid.Nil, false
	}
	return userID, true
}

func isAdmin(ctx *gin.Context) bool {
	role, _ := ctx.Get("user_role")
	roleStr, _ := role.(string)
	return roleStr == string(users.RoleAdmin)
}
