package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"seedledger/internal/domain"
	"seedledger/internal/store"
	"seedledger/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const batchColumns = `
	id, supplier_name, seed_name, lot_no, arrival_date, total_packets_initial,
	total_weight_initial, packets_available, cost_per_packet, total_stock_value, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*domain.StockBatch, error) {
	var b domain.StockBatch
	err := row.Scan(
		&b.ID, &b.SupplierName, &b.SeedName, &b.LotNo, &b.ArrivalDate, &b.TotalPacketsInitial,
		&b.TotalWeightInitial, &b.PacketsAvailable, &b.CostPerPacket, &b.TotalStockValue, &b.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) CreateBatch(ctx context.Context, batch domain.StockBatch) (*domain.StockBatch, error) {
	batch.LotNo = strings.TrimSpace(batch.LotNo)
	if batch.SupplierName == "" || batch.SeedName == "" || batch.LotNo == "" {
		return nil, store.ErrInvalidInput
	}
	if batch.TotalPacketsInitial < 1 || batch.TotalPacketsInitial > domain.MaxPackets || batch.PacketsAvailable < 0 || batch.PacketsAvailable > batch.TotalPacketsInitial {
		return nil, store.ErrInvalidInput
	}
	if !batch.CostPerPacket.IsPositive() {
		return nil, store.ErrInvalidInput
	}
	if batch.ID == "" {
		batch.ID = xid.New("batch")
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	if batch.ArrivalDate.IsZero() {
		batch.ArrivalDate = batch.CreatedAt
	}
	batch.ArrivalDate = nowDateUTC(batch.ArrivalDate)

	created, err := scanBatch(s.db.QueryRowContext(ctx, `
		INSERT INTO stock_batches (
			id, supplier_name, seed_name, lot_no, arrival_date, total_packets_initial,
			total_weight_initial, packets_available, cost_per_packet, total_stock_value, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING`+batchColumns,
		batch.ID, batch.SupplierName, batch.SeedName, batch.LotNo, batch.ArrivalDate, batch.TotalPacketsInitial,
		batch.TotalWeightInitial, batch.PacketsAvailable, batch.CostPerPacket, batch.TotalStockValue, batch.CreatedAt,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateLot
		}
		return nil, store.Wrap("create batch", err)
	}
	return created, nil
}

func (s *Store) ListBatches(ctx context.Context) ([]domain.StockBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT`+batchColumns+`
		FROM stock_batches
		ORDER BY arrival_date DESC, created_at DESC, id DESC
	`)
	if err != nil {
		return nil, store.Wrap("list batches", err)
	}
	defer rows.Close()

	batches := make([]domain.StockBatch, 0, 64)
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, store.Wrap("list batches", err)
		}
		batches = append(batches, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap("list batches", err)
	}
	return batches, nil
}

func (s *Store) GetBatch(ctx context.Context, id string) (*domain.StockBatch, error) {
	batch, err := scanBatch(s.db.QueryRowContext(ctx, `
		SELECT`+batchColumns+`
		FROM stock_batches
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.Wrap("get batch", err)
	}
	return batch, nil
}

func (s *Store) UpdateBatch(ctx context.Context, id string, patch store.BatchPatch) (*domain.StockBatch, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, store.Wrap("update batch", err)
	}
	defer func() { _ = tx.Rollback() }()

	batch, err := scanBatch(tx.QueryRowContext(ctx, `
		SELECT`+batchColumns+`
		FROM stock_batches
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.Wrap("update batch", err)
	}

	if patch.SupplierName != nil {
		batch.SupplierName = *patch.SupplierName
	}
	if patch.SeedName != nil {
		batch.SeedName = *patch.SeedName
	}
	if patch.LotNo != nil {
		batch.LotNo = strings.TrimSpace(*patch.LotNo)
		if batch.LotNo == "" {
			return nil, store.ErrInvalidInput
		}
	}
	if patch.ArrivalDate != nil {
		batch.ArrivalDate = nowDateUTC(*patch.ArrivalDate)
	}
	if patch.TotalPacketsInitial != nil {
		batch.TotalPacketsInitial = *patch.TotalPacketsInitial
	}
	if patch.PacketsAvailable != nil {
		if *patch.PacketsAvailable < 0 {
			return nil, store.ErrInvalidInput
		}
		batch.PacketsAvailable = *patch.PacketsAvailable
	}
	if patch.CostPerPacket != nil {
		batch.CostPerPacket = *patch.CostPerPacket
	}

	updated, err := scanBatch(tx.QueryRowContext(ctx, `
		UPDATE stock_batches
		SET supplier_name = $2, seed_name = $3, lot_no = $4, arrival_date = $5,
			total_packets_initial = $6, packets_available = $7, cost_per_packet = $8
		WHERE id = $1
		RETURNING`+batchColumns,
		id, batch.SupplierName, batch.SeedName, batch.LotNo, batch.ArrivalDate,
		batch.TotalPacketsInitial, batch.PacketsAvailable, batch.CostPerPacket,
	))
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return nil, store.ErrDuplicateLot
		case isCheckViolation(err):
			return nil, store.ErrInvalidInput
		}
		return nil, store.Wrap("update batch", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, store.Wrap("update batch commit", err)
	}
	return updated, nil
}

func (s *Store) DeleteBatch(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM stock_batches WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrBatchInUse
		}
		return store.Wrap("delete batch", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return store.Wrap("delete batch", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// WithinTx runs fn under READ COMMITTED. Batch rows are serialized with
// SELECT ... FOR UPDATE, so a waiting sale re-reads the committed count.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return store.Wrap("begin", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return store.Wrap("commit", err)
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) ReserveAndDecrement(ctx context.Context, batchID string, qty int) (*domain.StockBatch, error) {
	if qty < 1 {
		return nil, store.ErrInvalidInput
	}

	batch, err := scanBatch(t.tx.QueryRowContext(ctx, `
		SELECT`+batchColumns+`
		FROM stock_batches
		WHERE id = $1
		FOR UPDATE
	`, batchID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.Wrap("lock batch", err)
	}
	if qty > batch.PacketsAvailable {
		return nil, store.ErrInsufficientStock
	}

	updated, err := scanBatch(t.tx.QueryRowContext(ctx, `
		UPDATE stock_batches
		SET packets_available = packets_available - $2
		WHERE id = $1
		RETURNING`+batchColumns,
		batchID, qty,
	))
	if err != nil {
		return nil, store.Wrap("decrement batch", err)
	}
	return updated, nil
}

func (t *pgTx) InsertSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.CustomerName == "" || sale.StockBatchID == "" || sale.PacketsSold < 1 {
		return nil, store.ErrInvalidInput
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	if sale.SaleDate.IsZero() {
		sale.SaleDate = sale.CreatedAt
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, customer_name, stock_batch_id, packets_sold, sale_date,
			total_amount_due, amount_paid, profit, idempotency_key, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, sale.ID, sale.CustomerName, sale.StockBatchID, sale.PacketsSold, sale.SaleDate,
		sale.TotalAmountDue, sale.AmountPaid, sale.Profit, nullIfEmpty(sale.IdempotencyKey), sale.CreatedAt)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return nil, store.ErrDuplicateSale
		case isForeignKeyViolation(err):
			return nil, store.ErrNotFound
		case isCheckViolation(err):
			return nil, store.ErrInvalidInput
		}
		return nil, store.Wrap("insert sale", err)
	}

	created := sale
	created.Derive()
	return &created, nil
}

const saleColumns = `
	s.id, s.customer_name, s.stock_batch_id, s.packets_sold, s.sale_date, s.total_amount_due,
	s.amount_paid, s.profit, COALESCE(s.idempotency_key, ''), s.created_at, b.seed_name, b.lot_no`

func scanSale(row rowScanner) (*domain.Sale, error) {
	var sale domain.Sale
	err := row.Scan(
		&sale.ID, &sale.CustomerName, &sale.StockBatchID, &sale.PacketsSold, &sale.SaleDate, &sale.TotalAmountDue,
		&sale.AmountPaid, &sale.Profit, &sale.IdempotencyKey, &sale.CreatedAt, &sale.SeedName, &sale.LotNo,
	)
	if err != nil {
		return nil, err
	}
	sale.Derive()
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = domain.RecentSalesLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT`+saleColumns+`
		FROM sales s
		JOIN stock_batches b ON b.id = s.stock_batch_id
		ORDER BY s.sale_date DESC, s.created_at DESC, s.id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, store.Wrap("list sales", err)
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, store.Wrap("list sales", err)
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap("list sales", err)
	}
	return sales, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return s.findSale(ctx, "s.id", id)
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	return s.findSale(ctx, "s.idempotency_key", key)
}

func (s *Store) findSale(ctx context.Context, column string, value string) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `
		SELECT`+saleColumns+`
		FROM sales s
		JOIN stock_batches b ON b.id = s.stock_batch_id
		WHERE `+column+` = $1
	`, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.Wrap("get sale", err)
	}
	return sale, nil
}

func (s *Store) UpdateSale(ctx context.Context, id string, patch domain.SaleUpdateRequest) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `
		UPDATE sales s
		SET customer_name = COALESCE($2::text, s.customer_name),
			total_amount_due = COALESCE($3::numeric, s.total_amount_due),
			amount_paid = COALESCE($4::numeric, s.amount_paid)
		FROM stock_batches b
		WHERE s.id = $1 AND b.id = s.stock_batch_id
		RETURNING`+saleColumns,
		id, nullString(patch.CustomerName), nullDecimal(patch.TotalAmountDue), nullDecimal(patch.AmountPaid),
	))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, store.ErrNotFound
		case isCheckViolation(err):
			return nil, store.ErrInvalidInput
		}
		return nil, store.Wrap("update sale", err)
	}
	return sale, nil
}

// DeleteSale removes the sale and returns its packets to the batch in one transaction.
func (s *Store) DeleteSale(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return store.Wrap("delete sale", err)
	}
	defer func() { _ = tx.Rollback() }()

	var batchID string
	var packets int
	err = tx.QueryRowContext(ctx, `
		DELETE FROM sales
		WHERE id = $1
		RETURNING stock_batch_id, packets_sold
	`, id).Scan(&batchID, &packets)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return store.Wrap("delete sale", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE stock_batches
		SET packets_available = packets_available + $2
		WHERE id = $1
	`, batchID, packets); err != nil {
		return store.Wrap("restock batch", err)
	}

	if err := tx.Commit(); err != nil {
		return store.Wrap("delete sale commit", err)
	}
	return nil
}

// ApplyPayment adds amount in a single UPDATE so concurrent payments never lose an increment.
func (s *Store) ApplyPayment(ctx context.Context, saleID string, amount decimal.Decimal) (*domain.Sale, error) {
	if !amount.IsPositive() {
		return nil, store.ErrInvalidInput
	}

	sale, err := scanSale(s.db.QueryRowContext(ctx, `
		UPDATE sales s
		SET amount_paid = s.amount_paid + $2
		FROM stock_batches b
		WHERE s.id = $1 AND b.id = s.stock_batch_id
		RETURNING`+saleColumns,
		saleID, amount,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.Wrap("apply payment", err)
	}
	return sale, nil
}

func (s *Store) SettleSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `
		UPDATE sales s
		SET amount_paid = GREATEST(s.amount_paid, s.total_amount_due)
		FROM stock_batches b
		WHERE s.id = $1 AND b.id = s.stock_batch_id
		RETURNING`+saleColumns,
		saleID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.Wrap("settle sale", err)
	}
	return sale, nil
}

const expenseColumns = `id, category, amount, description, expense_date, created_at`

func scanExpense(row rowScanner) (*domain.Expense, error) {
	var e domain.Expense
	if err := row.Scan(&e.ID, &e.Category, &e.Amount, &e.Description, &e.ExpenseDate, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error) {
	if strings.TrimSpace(expense.Category) == "" || !expense.Amount.IsPositive() {
		return nil, store.ErrInvalidInput
	}
	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}
	if expense.ExpenseDate.IsZero() {
		expense.ExpenseDate = expense.CreatedAt
	}

	created, err := scanExpense(s.db.QueryRowContext(ctx, `
		INSERT INTO expenses (id, category, amount, description, expense_date, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING `+expenseColumns,
		expense.ID, expense.Category, expense.Amount, expense.Description, expense.ExpenseDate, expense.CreatedAt,
	))
	if err != nil {
		return nil, store.Wrap("create expense", err)
	}
	return created, nil
}

func (s *Store) ListExpenses(ctx context.Context) ([]domain.Expense, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+expenseColumns+`
		FROM expenses
		ORDER BY expense_date DESC, created_at DESC, id DESC
	`)
	if err != nil {
		return nil, store.Wrap("list expenses", err)
	}
	defer rows.Close()

	expenses := make([]domain.Expense, 0, 64)
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, store.Wrap("list expenses", err)
		}
		expenses = append(expenses, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap("list expenses", err)
	}
	return expenses, nil
}

func (s *Store) UpdateExpense(ctx context.Context, id string, patch store.ExpensePatch) (*domain.Expense, error) {
	if patch.Amount != nil && !patch.Amount.IsPositive() {
		return nil, store.ErrInvalidInput
	}

	updated, err := scanExpense(s.db.QueryRowContext(ctx, `
		UPDATE expenses
		SET category = COALESCE($2::text, category),
			amount = COALESCE($3::numeric, amount),
			description = COALESCE($4::text, description),
			expense_date = COALESCE($5::timestamptz, expense_date)
		WHERE id = $1
		RETURNING `+expenseColumns,
		id, nullString(patch.Category), nullDecimal(patch.Amount), nullString(patch.Description), nullTime(patch.ExpenseDate),
	))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, store.ErrNotFound
		case isCheckViolation(err):
			return nil, store.ErrInvalidInput
		}
		return nil, store.Wrap("update expense", err)
	}
	return updated, nil
}

func (s *Store) DeleteExpense(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = $1`, id)
	if err != nil {
		return store.Wrap("delete expense", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return store.Wrap("delete expense", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Totals(ctx context.Context) (domain.Stats, error) {
	var stats domain.Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE((SELECT SUM(amount_paid) FROM sales), 0),
			COALESCE((SELECT SUM(total_amount_due) FROM sales), 0),
			COALESCE((SELECT SUM(total_stock_value) FROM stock_batches), 0),
			COALESCE((SELECT SUM(amount) FROM expenses), 0)
	`).Scan(&stats.TotalCollection, &stats.TotalSalesValue, &stats.StockPurchasedValue, &stats.HomeExpenses)
	if err != nil {
		return domain.Stats{}, store.Wrap("totals", err)
	}
	return stats, nil
}

func isUniqueViolation(err error) bool {
	return hasPgCode(err, "23505")
}

func isForeignKeyViolation(err error) bool {
	return hasPgCode(err, "23503")
}

func isCheckViolation(err error) bool {
	return hasPgCode(err, "23514")
}

func hasPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func nowDateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullString(val *string) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullDecimal(val *decimal.Decimal) any {
	if val == nil {
		return nil
	}
	return *val
}
