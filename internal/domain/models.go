package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// UnitWeightGrams is the fixed weight of one seed packet.
const UnitWeightGrams = 10

// MaxPackets bounds every packet count so the derived weight in grams fits a
// 32-bit column.
const MaxPackets = 214748364

// RecentSalesLimit caps the sale history returned by list operations.
const RecentSalesLimit = 50

// DateLayout is the calendar-date format accepted for arrival, sale and expense dates.
const DateLayout = "2006-01-02"

var ExpenseCategories = []string{"Petrol", "Electricity", "Groceries", "Rent", "Mobile", "Wifi", "Other"}

type StockBatch struct {
	ID                  string          `json:"id"`
	SupplierName        string          `json:"supplier_name"`
	SeedName            string          `json:"seed_name"`
	LotNo               string          `json:"lot_no"`
	ArrivalDate         time.Time       `json:"arrival_date"`
	TotalPacketsInitial int             `json:"total_packets_initial"`
	TotalWeightInitial  int             `json:"total_weight_initial"`
	PacketsAvailable    int             `json:"packets_available"`
	CostPerPacket       decimal.Decimal `json:"cost_per_packet"`
	TotalStockValue     decimal.Decimal `json:"total_stock_value"`
	CreatedAt           time.Time       `json:"created_at"`
}

type StockBatchCreateRequest struct {
	SupplierName        string          `json:"supplier_name" validate:"required,max=200"`
	SeedName            string          `json:"seed_name" validate:"required,max=200"`
	LotNo               string          `json:"lot_no" validate:"required,max=100"`
	ArrivalDate         string          `json:"arrival_date,omitempty"`
	TotalPacketsInitial int             `json:"total_packets_initial" validate:"gt=0,lte=214748364"`
	CostPerPacket       decimal.Decimal `json:"cost_per_packet"`
}

// StockBatchUpdateRequest is an administrative correction. Nil fields are left unchanged.
type StockBatchUpdateRequest struct {
	SupplierName        *string          `json:"supplier_name,omitempty" validate:"omitempty,min=1,max=200"`
	SeedName            *string          `json:"seed_name,omitempty" validate:"omitempty,min=1,max=200"`
	LotNo               *string          `json:"lot_no,omitempty" validate:"omitempty,min=1,max=100"`
	ArrivalDate         *string          `json:"arrival_date,omitempty"`
	TotalPacketsInitial *int             `json:"total_packets_initial,omitempty" validate:"omitempty,gt=0,lte=214748364"`
	PacketsAvailable    *int             `json:"packets_available,omitempty" validate:"omitempty,gte=0,lte=214748364"`
	CostPerPacket       *decimal.Decimal `json:"cost_per_packet,omitempty"`
}

type Sale struct {
	ID             string          `json:"id"`
	CustomerName   string          `json:"customer_name"`
	StockBatchID   string          `json:"stock_batch_id"`
	PacketsSold    int             `json:"packets_sold"`
	SaleDate       time.Time       `json:"sale_date"`
	TotalAmountDue decimal.Decimal `json:"total_amount_due"`
	AmountPaid     decimal.Decimal `json:"amount_paid"`
	Profit         decimal.Decimal `json:"profit"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`

	// Populated from the referenced batch on list and get.
	SeedName string `json:"seed_name,omitempty"`
	LotNo    string `json:"lot_no,omitempty"`

	// Derived on read, never stored.
	IsFullyPaid bool            `json:"is_fully_paid"`
	Due         decimal.Decimal `json:"due"`
}

// Derive fills the read-only fields computed from the stored amounts.
func (s *Sale) Derive() {
	s.Due = s.TotalAmountDue.Sub(s.AmountPaid)
	s.IsFullyPaid = s.AmountPaid.GreaterThanOrEqual(s.TotalAmountDue)
}

type SaleCreateRequest struct {
	CustomerName   string           `json:"customer_name" validate:"required,max=200"`
	StockBatchID   string           `json:"stock_batch_id" validate:"required"`
	PacketsSold    int              `json:"packets_sold" validate:"gt=0,lte=214748364"`
	AmountPaid     decimal.Decimal  `json:"amount_paid"`
	TotalAmountDue *decimal.Decimal `json:"total_amount_due,omitempty"`
	SaleDate       string           `json:"sale_date,omitempty"`
	IdempotencyKey string           `json:"idempotency_key,omitempty" validate:"omitempty,max=128"`
}

// SaleUpdateRequest edits a recorded sale. Profit is a stored fact and is not recomputed.
type SaleUpdateRequest struct {
	CustomerName   *string          `json:"customer_name,omitempty" validate:"omitempty,min=1,max=200"`
	TotalAmountDue *decimal.Decimal `json:"total_amount_due,omitempty"`
	AmountPaid     *decimal.Decimal `json:"amount_paid,omitempty"`
}

type SaleResponse struct {
	Sale
	Duplicate bool `json:"duplicate"`
}

type PaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type Expense struct {
	ID          string          `json:"id"`
	Category    string          `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	ExpenseDate time.Time       `json:"expense_date"`
	CreatedAt   time.Time       `json:"created_at"`
}

type ExpenseCreateRequest struct {
	Category    string          `json:"category" validate:"required,max=100"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"max=1000"`
	ExpenseDate string          `json:"expense_date,omitempty"`
}

type ExpenseUpdateRequest struct {
	Category    *string          `json:"category,omitempty" validate:"omitempty,min=1,max=100"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Description *string          `json:"description,omitempty" validate:"omitempty,max=1000"`
	ExpenseDate *string          `json:"expense_date,omitempty"`
}

// Stats are the dashboard totals folded over the three ledgers.
type Stats struct {
	TotalCollection     decimal.Decimal `json:"total_collection"`
	TotalSalesValue     decimal.Decimal `json:"total_sales_value"`
	StockPurchasedValue decimal.Decimal `json:"stock_purchased_value"`
	HomeExpenses        decimal.Decimal `json:"home_expenses"`
	CollectionRate      decimal.Decimal `json:"collection_rate"`
	ComputedAt          time.Time       `json:"computed_at"`
}

// WithCollectionRate sets the collected share of sales value as a whole percentage.
func (s Stats) WithCollectionRate() Stats {
	s.CollectionRate = decimal.Zero
	if s.TotalSalesValue.IsPositive() {
		s.CollectionRate = s.TotalCollection.Mul(decimal.NewFromInt(100)).Div(s.TotalSalesValue).Round(0)
	}
	return s
}
