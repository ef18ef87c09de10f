package controller

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ramincsy/Sarafchi/internal/monitoring"
	"github.com/ramincsy/Sarafchi/internal/service"
)

type BalanceController struct {
	balanceService service.BalanceService
	metrics        monitoring.MetricsService
}

func NewBalanceController(balanceService service.BalanceService, metrics monitoring.MetricsService) *BalanceController {
	return &BalanceController{balanceService: balanceService, metrics: metrics}
}

// GetUserBalances returns the customer-side aggregate: one entry per user
// with balances per currency, plus currency totals.
func (c *BalanceController) GetUserBalances(ctx *gin.Context) {
	response, err := c.balanceService.GetUserBalances(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, response)
}

// GetCompanyBalance returns company-side aggregates together with the
// per-currency discrepancies against the user side.
func (c *BalanceController) GetCompanyBalance(ctx *gin.Context) {
	response, err := c.balanceService.GetCompanyBalance(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err)
		return
	}
	if c.metrics != nil {
		for _, d := range response.Discrepancies {
			c.metrics.RecordDiscrepancy(d.Currency, d.Difference.InexactFloat64())
		}
	}
	ctx.JSON(http.StatusOK, response)
}

// GetPartnerBalances returns the raw ledger rows for the Partner role.
func (c *BalanceController) GetPartnerBalances(ctx *gin.Context) {
	rows, err := c.balanceService.GetPartnerBalances(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"partners": rows})
}

// GetUserBalanceDetails returns one user's balances across all roles.
func (c *BalanceController) GetUserBalanceDetails(ctx *gin.Context) {
	userID, err := strconv.ParseInt(ctx.Param("userId"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid user ID", Message: err.Error()})
		return
	}

	user, svcErr := c.balanceService.GetUserBalanceDetails(ctx.Request.Context(), userID)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, user)
}

// GetSuggestions returns the corrective actions derived from the current
// currency imbalances.
func (c *BalanceController) GetSuggestions(ctx *gin.Context) {
	suggestions, err := c.balanceService.GetSuggestions(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}
