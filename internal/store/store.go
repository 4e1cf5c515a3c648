package store

import (
	"context"
	"errors"
	"time"

	"paleteria/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("already exists")
	ErrInvalidInput = errors.New("invalid input")
	ErrNotSellable  = errors.New("sku not sellable at POS")
	ErrForbidden    = errors.New("forbidden")
)

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductsBySKUs(ctx context.Context, skus []string) (map[string]domain.Product, error)

	// CreateSale stores the sale header with its lines and promos atomically.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	// GetSale returns the sale with lines and promos in insertion order.
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	// ListSales returns headers only, newest first.
	ListSales(ctx context.Context, limit int) ([]domain.Sale, error)

	CreateStockMoves(ctx context.Context, moves []domain.StockMove) error
	ListStockMovesBySale(ctx context.Context, saleID string) ([]domain.StockMove, error)
	// ListStockMovesBySKU returns every move of a SKU, oldest first.
	ListStockMovesBySKU(ctx context.Context, sku string) ([]domain.StockMove, error)
	// ApplyInventoryWrite stores moves, lot usage and audit entry in one
	// transaction. A second revert of the same conversion is ErrConflict.
	ApplyInventoryWrite(ctx context.Context, write InventoryWrite) error

	// CreateReceipt stores the header, its items with their lots and the
	// receipt moves atomically.
	CreateReceipt(ctx context.Context, receipt domain.Receipt, moves []domain.StockMove) (*domain.Receipt, error)
	GetReceipt(ctx context.Context, id string) (*domain.Receipt, error)
	// ListReceipts returns headers only, newest first.
	ListReceipts(ctx context.Context, limit int) ([]domain.Receipt, error)
	UpdateReceiptStatus(ctx context.Context, id string, status string, editedBy string, comment string) (*domain.Receipt, error)
	// SaveReceiptItem inserts or replaces an item and its lot and writes
	// the adjusting moves.
	SaveReceiptItem(ctx context.Context, item domain.ReceiptItem, editedBy string, comment string, moves []domain.StockMove) error
	DeleteReceiptItem(ctx context.Context, receiptID string, itemID string, editedBy string, comment string, moves []domain.StockMove) error
	DeleteReceipt(ctx context.Context, id string, moves []domain.StockMove) error
	GetReceiptItem(ctx context.Context, itemID string) (*domain.ReceiptItem, error)
	ListLotsBySKU(ctx context.Context, sku string) ([]domain.Lot, error)

	GetDailyReport(ctx context.Context, from time.Time, to time.Time) (domain.DailyReport, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	GetAuditLog(ctx context.Context, id string) (*domain.AuditLog, error)
	// FindAuditLogs matches the non-empty filter fields, newest first.
	FindAuditLogs(ctx context.Context, filter AuditFilter) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type AuditFilter struct {
	Module   string
	Action   string
	EntityID string
	Limit    int
}

// InventoryWrite is a stock adjustment recorded together with its audit
// entry. LotUsed is added to the lot's used quantity when LotID is set.
type InventoryWrite struct {
	Moves   []domain.StockMove
	Audit   domain.AuditLog
	LotID   string
	LotUsed int
}

// AuditActionConvertRevert entries carry the reverted conversion's audit
// id as EntityID; at most one may exist per conversion.
const AuditActionConvertRevert = "convert_revert"
