package stalls

import (
	"errors"
	"net/http"

	"stallbook/internal/shared/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Controller interface {
	GetAllStalls(c *gin.Context)
	GetStall(c *gin.Context)
}

type controller struct {
	service Service
}

func NewController(service Service) Controller {
	return &controller{service: service}
}

func (ctrl *controller) GetAllStalls(c *gin.Context) {
	var query StallListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid query parameters", nil, err.Error())
		return
	}
	if query.Status != "" && !Status(query.Status).IsValid() {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid stall status filter", nil, nil)
		return
	}

	result, err := ctrl.service.ListStalls(c.Request.Context(), query)
	if err != nil {
		response.RespondJSON(c, "error", http.StatusInternalServerError, "Failed to list stalls", nil, err.Error())
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "Stalls retrieved successfully", result, nil)
}

func (ctrl *controller) GetStall(c *gin.Context) {
	stallID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid stall ID", nil, err.Error())
		return
	}

	stall, err := ctrl.service.GetStall(c.Request.Context(), stallID)
	if err != nil {
		statusCode := http.StatusInternalServerError
		if errors.Is(err, ErrStallNotFound) {
			statusCode = http.StatusNotFound
		}
		response.RespondJSON(c, "error", statusCode, err.Error(), nil, nil)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "Stall retrieved successfully", stall, nil)
}
