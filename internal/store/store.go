package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"seedledger/internal/domain"
)

// Repository is the persistence boundary shared by the postgres and in-memory stores.
type Repository interface {
	CreateBatch(ctx context.Context, batch domain.StockBatch) (*domain.StockBatch, error)
	ListBatches(ctx context.Context) ([]domain.StockBatch, error)
	GetBatch(ctx context.Context, id string) (*domain.StockBatch, error)
	UpdateBatch(ctx context.Context, id string, patch BatchPatch) (*domain.StockBatch, error)
	DeleteBatch(ctx context.Context, id string) error

	// WithinTx runs fn in a transaction scope. fn's error, a cancelled ctx, or a
	// panic roll everything back; the scope commits only when fn returns nil.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	ListSales(ctx context.Context, limit int) ([]domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error)
	UpdateSale(ctx context.Context, id string, patch domain.SaleUpdateRequest) (*domain.Sale, error)
	DeleteSale(ctx context.Context, id string) error
	ApplyPayment(ctx context.Context, saleID string, amount decimal.Decimal) (*domain.Sale, error)
	// SettleSale raises amount_paid to total_amount_due when it is lower and
	// leaves over-paid or fully paid sales untouched.
	SettleSale(ctx context.Context, saleID string) (*domain.Sale, error)

	CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error)
	ListExpenses(ctx context.Context) ([]domain.Expense, error)
	UpdateExpense(ctx context.Context, id string, patch ExpensePatch) (*domain.Expense, error)
	DeleteExpense(ctx context.Context, id string) error

	Totals(ctx context.Context) (domain.Stats, error)
}

// Tx is the engine-internal view of an open transaction.
type Tx interface {
	// ReserveAndDecrement locks the batch for the rest of the transaction, checks
	// availability and subtracts qty.
	ReserveAndDecrement(ctx context.Context, batchID string, qty int) (*domain.StockBatch, error)
	InsertSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
}

// BatchPatch carries validated administrative edits to a stock batch.
// total_stock_value is never part of a patch.
type BatchPatch struct {
	SupplierName        *string
	SeedName            *string
	LotNo               *string
	ArrivalDate         *time.Time
	TotalPacketsInitial *int
	PacketsAvailable    *int
	CostPerPacket       *decimal.Decimal
}

// ExpensePatch carries validated expense edits.
type ExpensePatch struct {
	Category    *string
	Amount      *decimal.Decimal
	Description *string
	ExpenseDate *time.Time
}
