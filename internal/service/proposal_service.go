package service

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ramincsy/Sarafchi/internal/models"
	"github.com/ramincsy/Sarafchi/internal/repository"
)

// ProposalService covers the read side of the proposal lifecycle plus the
// settlement artifacts that do not need engine-level locking: receipts and
// the counterparty directory.
type ProposalService interface {
	GetProposal(ctx context.Context, proposalID int64) (*models.Proposal, error)
	ListProposals(ctx context.Context, filter repository.ProposalFilter) ([]*models.Proposal, error)
	ListTransactions(ctx context.Context, limit, offset int64) ([]*models.EquilibriumTransaction, error)

	UploadReceipt(ctx context.Context, req *UploadReceiptRequest) (*models.Receipt, error)
	ListReceipts(ctx context.Context, transactionID int64) ([]*models.Receipt, error)

	CreateCounterparty(ctx context.Context, req *CreateCounterpartyRequest) (*models.Counterparty, error)
	ListCounterparties(ctx context.Context) ([]*models.Counterparty, error)
}

type UploadReceiptRequest struct {
	TransactionID int64
	FileType      string
	Description   string
	File          multipart.File
	Filename      string
}

type CreateCounterpartyRequest struct {
	FirstName           string `json:"FirstName" binding:"required"`
	LastName            string `json:"LastName" binding:"required"`
	NationalID          string `json:"NationalID"`
	AccountNumber       string `json:"AccountNumber"`
	IBAN                string `json:"IBAN"`
	CardNumber          string `json:"CardNumber"`
	MobileNumber        string `json:"MobileNumber" binding:"required"`
	ReferralDescription string `json:"ReferralDescription"`
	RegisteredBy        int64  `json:"RegisteredBy"`
}

type proposalService struct {
	proposalRepo   repository.ProposalRepository
	settlementRepo repository.SettlementRepository
	uploadDir      string
	logger         *logrus.Logger
}

func NewProposalService(
	proposalRepo repository.ProposalRepository,
	settlementRepo repository.SettlementRepository,
	uploadDir string,
	logger *logrus.Logger,
) ProposalService {
	return &proposalService{
		proposalRepo:   proposalRepo,
		settlementRepo: settlementRepo,
		uploadDir:      uploadDir,
		logger:         logger,
	}
}

func (s *proposalService) GetProposal(ctx context.Context, proposalID int64) (*models.Proposal, error) {
	return s.proposalRepo.GetByProposalID(ctx, proposalID)
}

func (s *proposalService) ListProposals(ctx context.Context, filter repository.ProposalFilter) ([]*models.Proposal, error) {
	return s.proposalRepo.List(ctx, filter)
}

func (s *proposalService) ListTransactions(ctx context.Context, limit, offset int64) ([]*models.EquilibriumTransaction, error) {
	return s.settlementRepo.ListTransactions(ctx, limit, offset)
}

func (s *proposalService) UploadReceipt(ctx context.Context, req *UploadReceiptRequest) (*models.Receipt, error) {
	if req.TransactionID == 0 {
		return nil, fmt.Errorf("%w: transaction id is required", models.ErrValidation)
	}
	if req.FileType == "" {
		return nil, fmt.Errorf("%w: file type is required", models.ErrValidation)
	}
	if req.File == nil {
		return nil, fmt.Errorf("%w: receipt file is required", models.ErrValidation)
	}

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to prepare upload directory: %w", err)
	}

	// The stored name is random; the original name only contributes its
	// extension to avoid path tricks in user-supplied filenames.
	storedName := fmt.Sprintf("%s%s", uuid.New().String(), strings.ToLower(filepath.Ext(req.Filename)))
	storedPath := filepath.Join(s.uploadDir, storedName)

	dst, err := os.Create(storedPath)
	if err != nil {
		return nil, fmt.Errorf("failed to store receipt file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, req.File); err != nil {
		os.Remove(storedPath)
		return nil, fmt.Errorf("failed to write receipt file: %w", err)
	}

	receipt := &models.Receipt{
		TransactionID: req.TransactionID,
		FilePath:      storedPath,
		FileType:      req.FileType,
		Description:   req.Description,
		UploadedAt:    time.Now().UTC(),
	}
	if err := s.settlementRepo.CreateReceipt(ctx, receipt); err != nil {
		os.Remove(storedPath)
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"receipt_id":     receipt.ReceiptID,
		"transaction_id": receipt.TransactionID,
		"file_type":      receipt.FileType,
	}).Info("Receipt uploaded")
	return receipt, nil
}

func (s *proposalService) ListReceipts(ctx context.Context, transactionID int64) ([]*models.Receipt, error) {
	if transactionID == 0 {
		return nil, fmt.Errorf("%w: transaction_id is required", models.ErrValidation)
	}
	return s.settlementRepo.ListReceiptsByTransaction(ctx, transactionID)
}

func (s *proposalService) CreateCounterparty(ctx context.Context, req *CreateCounterpartyRequest) (*models.Counterparty, error) {
	if req.FirstName == "" || req.LastName == "" {
		return nil, fmt.Errorf("%w: first and last name are required", models.ErrValidation)
	}
	if req.MobileNumber == "" {
		return nil, fmt.Errorf("%w: mobile number is required", models.ErrValidation)
	}

	cp := &models.Counterparty{
		FirstName:           req.FirstName,
		LastName:            req.LastName,
		NationalID:          req.NationalID,
		AccountNumber:       req.AccountNumber,
		IBAN:                req.IBAN,
		CardNumber:          req.CardNumber,
		MobileNumber:        req.MobileNumber,
		ReferralDescription: req.ReferralDescription,
		RegisteredBy:        req.RegisteredBy,
		CreatedAt:           time.Now().UTC(),
	}
	if err := s.settlementRepo.CreateCounterparty(ctx, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

func (s *proposalService) ListCounterparties(ctx context.Context) ([]*models.Counterparty, error) {
	return s.settlementRepo.ListCounterparties(ctx)
}
