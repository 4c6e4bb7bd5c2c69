package bookings

import (
	"stallbook/internal/shared/middleware"

	"github.com/gin-gonic/gin"
)

// SetupBookingRoutes configures all booking-related routes
func SetupBookingRoutes(rg *gin.RouterGroup, controller *Controller, auth, optionalAuth gin.HandlerFunc) {
	// Public hold policy so client countdowns use the server value, signed-in callers
	// also get their running holds
	rg.GET("/bookings/policy", optionalAuth, controller.GetHoldPolicy) // GET /api/v1/bookings/policy

	// Reservation
	stalls := rg.Group("/stalls")
	stalls.Use(auth, middleware.RequireRoles("USER", "ADMIN"))
	{
		stalls.POST("/:id/reserve", controller.ReserveStall) // POST /api/v1/stalls/:id/reserve
	}

	// Booking routes
	bookings := rg.Group("/bookings")
	bookings.Use(auth, middleware.RequireRoles("USER", "ADMIN"))
	{
		bookings.GET("/:id", controller.GetBooking)             // GET /api/v1/bookings/:id
		bookings.POST("/:id/payment", controller.AttachPayment) // POST /api/v1/bookings/:id/payment
	}

	// User-specific booking routes
	users := rg.Group("/users")
	users.Use(auth, middleware.RequireRoles("USER", "ADMIN"))
	{
		users.GET("/bookings", controller.GetUserBookings) // GET /api/v1/users/bookings
	}

	// Admin review and maintenance
	admin := rg.Group("/admin")
	admin.Use(auth, middleware.RequireAdmin())
	{
		admin.GET("/bookings", controller.ListBookings)                 // GET /api/v1/admin/bookings
		admin.POST("/bookings/:id/approve", controller.ApproveBooking)  // POST /api/v1/admin/bookings/:id/approve
		admin.POST("/bookings/:id/reject", controller.RejectBooking)    // POST /api/v1/admin/bookings/:id/reject
		admin.DELETE("/bookings/:id", controller.DeleteBooking)         // DELETE /api/v1/admin/bookings/:id
		admin.POST("/maintenance/sweep", controller.RunSweep)           // POST /api/v1/admin/maintenance/sweep
		admin.POST("/maintenance/force-return", controller.ForceReturn) // POST /api/v1/admin/maintenance/force-return
	}
}

// Route definitions for reference:
//
// RESERVATION
// POST   /api/v1/stalls/:id/reserve                   - Hold a stall for 30 minutes (409 when taken)
//
// BOOKING RETRIEVAL
// GET    /api/v1/bookings/:id                         - Get booking by ID or BK-YYYY-NNNN reference
// GET    /api/v1/bookings/policy                      - Hold duration used for countdowns, plus the caller's active holds
// GET    /api/v1/users/bookings?status=&limit=&offset= - Caller's bookings
//
// PAYMENT
// POST   /api/v1/bookings/:id/payment                 - Multipart "evidence" file or { "evidence_ref": "..." }
//
// ADMIN
// GET    /api/v1/admin/bookings?status=&stall_id=     - All bookings
// POST   /api/v1/admin/bookings/:id/approve           - AWAITING_APPROVAL -> CONFIRMED
// POST   /api/v1/admin/bookings/:id/reject            - Any pending booking -> CANCELLED, body { "reason": "..." }
// DELETE /api/v1/admin/bookings/:id                   - Hard delete, frees the stall when still held
// POST   /api/v1/admin/maintenance/sweep              - Reclaim lapsed holds now
// POST   /api/v1/admin/maintenance/force-return       - Return every CONFIRMED stall
//
// Key Flow:
// 1. User reserves a stall with POST /stalls/:id/reserve
// 2. User uploads payment evidence within the hold window
// 3. Admin approves (stall CONFIRMED) or rejects (stall AVAILABLE)
// 4. Holds without evidence past their deadline are expired by the sweeper
