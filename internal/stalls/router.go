package stalls

import (
	"github.com/gin-gonic/gin"
)

func SetupStallRoutes(router *gin.RouterGroup, controller Controller) {
	// Public routes - anyone can browse the stall map
	publicStalls := router.Group("/stalls")
	{
		publicStalls.GET("", controller.GetAllStalls) // GET /api/v1/stalls?zone=&status=&page=&limit=
		publicStalls.GET("/:id", controller.GetStall) // GET /api/v1/stalls/:id
	}
}

// Reservation of a stall lives with the bookings module:
// POST   /api/v1/stalls/:id/reserve                   - Hold a stall for the caller
