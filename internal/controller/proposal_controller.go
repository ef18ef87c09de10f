package controller

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/ramincsy/Sarafchi/internal/engine"
	"github.com/ramincsy/Sarafchi/internal/monitoring"
	"github.com/ramincsy/Sarafchi/internal/repository"
	"github.com/ramincsy/Sarafchi/internal/service"
)

type ProposalController struct {
	proposalService service.ProposalService
	proposalEngine  engine.ProposalEngine
	rebalanceEngine engine.RebalanceEngine
	metrics         monitoring.MetricsService
}

func NewProposalController(
	proposalService service.ProposalService,
	proposalEngine engine.ProposalEngine,
	rebalanceEngine engine.RebalanceEngine,
	metrics monitoring.MetricsService,
) *ProposalController {
	return &ProposalController{
		proposalService: proposalService,
		proposalEngine:  proposalEngine,
		rebalanceEngine: rebalanceEngine,
		metrics:         metrics,
	}
}

func (c *ProposalController) recordTransition(transition string) {
	if c.metrics != nil {
		c.metrics.RecordProposalTransition(transition)
	}
}

func (c *ProposalController) recordRebalance(trigger string, created int) {
	if c.metrics != nil {
		c.metrics.RecordRebalanceRun(trigger, created)
	}
}

// Request bodies bind the PascalCase field names the API has always used;
// responses reuse the model JSON shapes, which match.
type createProposalBody struct {
	CreatedBy    int64           `json:"CreatedBy"`
	ProposalType string          `json:"ProposalType" binding:"required"`
	Currency     string          `json:"Currency" binding:"required,currency"`
	Amount       decimal.Decimal `json:"Amount"`
	Price        decimal.Decimal `json:"Price"`
	Description  string          `json:"Description"`
}

type createTransactionBody struct {
	ProposalID int64           `json:"ProposalID" binding:"required"`
	TraderID   int64           `json:"TraderID"`
	PartnerID  *int64          `json:"PartnerID"`
	Amount     decimal.Decimal `json:"Amount"`
	Price      decimal.Decimal `json:"Price"`
	Details    string          `json:"Details"`
}

type approveBody struct {
	ConfirmedBy int64 `json:"ConfirmedBy"`
}

func (c *ProposalController) ListProposals(ctx *gin.Context) {
	limit, _ := strconv.ParseInt(ctx.DefaultQuery("limit", "50"), 10, 64)
	offset, _ := strconv.ParseInt(ctx.DefaultQuery("offset", "0"), 10, 64)

	proposals, err := c.proposalService.ListProposals(ctx.Request.Context(), repository.ProposalFilter{
		Status:   ctx.Query("status"),
		Currency: ctx.Query("currency"),
		Type:     ctx.Query("type"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"proposals": proposals})
}

func (c *ProposalController) GetProposal(ctx *gin.Context) {
	proposalID, err := c.proposalIDFromPath(ctx)
	if err != nil {
		return
	}
	proposal, svcErr := c.proposalService.GetProposal(ctx.Request.Context(), proposalID)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, proposal)
}

func (c *ProposalController) CreateProposal(ctx *gin.Context) {
	var body createProposalBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request format", Message: err.Error()})
		return
	}

	proposal, err := c.proposalEngine.CreateProposal(ctx.Request.Context(), &engine.CreateProposalRequest{
		CreatedBy:    body.CreatedBy,
		ProposalType: body.ProposalType,
		Currency:     body.Currency,
		Amount:       body.Amount,
		Price:        body.Price,
		Description:  body.Description,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	c.recordTransition("created")
	ctx.JSON(http.StatusCreated, gin.H{
		"message":     "Proposal created successfully",
		"proposal_id": proposal.ProposalID,
		"proposal":    proposal,
	})
}

func (c *ProposalController) ApproveProposal(ctx *gin.Context) {
	proposalID, err := c.proposalIDFromPath(ctx)
	if err != nil {
		return
	}

	var body approveBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request format", Message: err.Error()})
		return
	}

	proposal, svcErr := c.proposalEngine.ApproveProposal(ctx.Request.Context(), proposalID, body.ConfirmedBy)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	c.recordTransition("approved")
	ctx.JSON(http.StatusOK, gin.H{
		"message":     "Proposal approved successfully",
		"proposal_id": proposal.ProposalID,
	})
}

func (c *ProposalController) CompleteProposal(ctx *gin.Context) {
	proposalID, err := c.proposalIDFromPath(ctx)
	if err != nil {
		return
	}
	proposal, svcErr := c.proposalEngine.CompleteProposal(ctx.Request.Context(), proposalID)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	c.recordTransition("completed")
	ctx.JSON(http.StatusOK, gin.H{
		"message":     "Proposal completed successfully",
		"proposal_id": proposal.ProposalID,
	})
}

func (c *ProposalController) CreateTransaction(ctx *gin.Context) {
	var body createTransactionBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request format", Message: err.Error()})
		return
	}

	tx, err := c.proposalEngine.CreateTransaction(ctx.Request.Context(), &engine.CreateTransactionRequest{
		ProposalID: body.ProposalID,
		TraderID:   body.TraderID,
		PartnerID:  body.PartnerID,
		Amount:     body.Amount,
		Price:      body.Price,
		Details:    body.Details,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"message":        "Transaction created successfully",
		"transaction_id": tx.TransactionID,
	})
}

func (c *ProposalController) ListTransactions(ctx *gin.Context) {
	limit, _ := strconv.ParseInt(ctx.DefaultQuery("limit", "50"), 10, 64)
	offset, _ := strconv.ParseInt(ctx.DefaultQuery("offset", "0"), 10, 64)

	txs, err := c.proposalService.ListTransactions(ctx.Request.Context(), limit, offset)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// UploadReceipt accepts a multipart form with a "file" part plus
// TransactionID, FileType and Description fields.
func (c *ProposalController) UploadReceipt(ctx *gin.Context) {
	transactionID, err := strconv.ParseInt(ctx.PostForm("TransactionID"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid transaction ID", Message: err.Error()})
		return
	}
	fileType := ctx.PostForm("FileType")
	if fileType == "" {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Missing required fields", Message: "FileType is required"})
		return
	}

	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Receipt file is required", Message: err.Error()})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to read receipt file", Message: err.Error()})
		return
	}
	defer file.Close()

	receipt, svcErr := c.proposalService.UploadReceipt(ctx.Request.Context(), &service.UploadReceiptRequest{
		TransactionID: transactionID,
		FileType:      fileType,
		Description:   ctx.PostForm("Description"),
		File:          file,
		Filename:      fileHeader.Filename,
	})
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"message":    "Receipt uploaded successfully",
		"receipt_id": receipt.ReceiptID,
	})
}

func (c *ProposalController) ListReceipts(ctx *gin.Context) {
	transactionID, err := strconv.ParseInt(ctx.Query("transaction_id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid transaction ID", Message: err.Error()})
		return
	}

	receipts, svcErr := c.proposalService.ListReceipts(ctx.Request.Context(), transactionID)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"receipts": receipts})
}

func (c *ProposalController) CreateCounterparty(ctx *gin.Context) {
	var body service.CreateCounterpartyRequest
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request format", Message: err.Error()})
		return
	}

	cp, err := c.proposalService.CreateCounterparty(ctx.Request.Context(), &body)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"message":         "Counterparty created successfully",
		"counterparty_id": cp.CounterpartyID,
	})
}

func (c *ProposalController) ListCounterparties(ctx *gin.Context) {
	cps, err := c.proposalService.ListCounterparties(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"counterparties": cps})
}

func (c *ProposalController) AutoRebalance(ctx *gin.Context) {
	result, err := c.rebalanceEngine.AutoRebalance(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err)
		return
	}
	c.recordRebalance("auto_rebalance", len(result.Created))
	ctx.JSON(http.StatusOK, gin.H{
		"message":           "Auto rebalance completed",
		"expired_count":     result.Expired,
		"created_proposals": result.Created,
		"skipped":           result.Skipped,
	})
}

func (c *ProposalController) AutoCreateProposals(ctx *gin.Context) {
	result, err := c.rebalanceEngine.AutoCreateProposals(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err)
		return
	}
	c.recordRebalance("auto_create", len(result.Created))
	ctx.JSON(http.StatusOK, gin.H{
		"message":   "Auto proposal creation completed",
		"proposals": result.Created,
		"skipped":   result.Skipped,
	})
}

func (c *ProposalController) RecalculateProposals(ctx *gin.Context) {
	result, err := c.rebalanceEngine.RecalculateProposals(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"message":    "Recalculation completed",
		"currencies": result.Currencies,
	})
}

func (c *ProposalController) ExpireProposals(ctx *gin.Context) {
	expired, err := c.proposalEngine.ExpireProposals(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err)
		return
	}
	for i := 0; i < expired; i++ {
		c.recordTransition("expired")
	}
	ctx.JSON(http.StatusOK, gin.H{
		"message":       "Expiration sweep completed",
		"expired_count": expired,
	})
}

func (c *ProposalController) proposalIDFromPath(ctx *gin.Context) (int64, error) {
	proposalID, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid proposal ID", Message: err.Error()})
		return 0, err
	}
	return proposalID, nil
}
