package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"seedledger/internal/domain"
	"seedledger/internal/store"
	"seedledger/internal/xid"
)

// Store keeps the three ledgers in process memory. Stock counts are only
// decremented by a transaction holding the batch's slot in locks.
type Store struct {
	mu          sync.RWMutex
	batches     map[string]domain.StockBatch
	lotIndex    map[string]string
	sales       map[string]domain.Sale
	salesByIdem map[string]string
	expenses    map[string]domain.Expense
	locks       *keyedLocks
}

func New() *Store {
	return &Store{
		batches:     make(map[string]domain.StockBatch),
		lotIndex:    make(map[string]string),
		sales:       make(map[string]domain.Sale),
		salesByIdem: make(map[string]string),
		expenses:    make(map[string]domain.Expense),
		locks:       newKeyedLocks(),
	}
}

// NewSeeded returns a store with a few demo batches for local runs without a database.
func NewSeeded() *Store {
	s := New()
	today := nowDateUTC(time.Now().UTC())
	seed := []struct {
		supplier string
		seed     string
		lot      string
		daysAgo  int
		packets  int
		cost     int64
	}{
		{"Kaveri Seeds", "Tomato Hybrid 6242", "KAV-2401", 21, 120, 45},
		{"Syngenta", "Chilli HPH-5531", "SYN-7780", 14, 80, 62},
		{"Mahyco", "Okra Mahy-9", "MHY-1102", 3, 200, 18},
	}
	for _, b := range seed {
		cost := decimal.NewFromInt(b.cost)
		_, _ = s.CreateBatch(context.Background(), domain.StockBatch{
			SupplierName:        b.supplier,
			SeedName:            b.seed,
			LotNo:               b.lot,
			ArrivalDate:         today.AddDate(0, 0, -b.daysAgo),
			TotalPacketsInitial: b.packets,
			TotalWeightInitial:  b.packets * domain.UnitWeightGrams,
			PacketsAvailable:    b.packets,
			CostPerPacket:       cost,
			TotalStockValue:     cost.Mul(decimal.NewFromInt(int64(b.packets))),
		})
	}
	return s
}

func (s *Store) CreateBatch(_ context.Context, batch domain.StockBatch) (*domain.StockBatch, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.lotIndex[batch.LotNo]; exists {
		return nil, store.ErrDuplicateLot
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

	s.batches[batch.ID] = batch
	s.lotIndex[batch.LotNo] = batch.ID
	created := batch
	return &created, nil
}

func (s *Store) ListBatches(_ context.Context) ([]domain.StockBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batches := make([]domain.StockBatch, 0, len(s.batches))
	for _, b := range s.batches {
		batches = append(batches, b)
	}
	slices.SortFunc(batches, func(a, b domain.StockBatch) int {
		if c := b.ArrivalDate.Compare(a.ArrivalDate); c != 0 {
			return c
		}
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return batches, nil
}

func (s *Store) GetBatch(_ context.Context, id string) (*domain.StockBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch, ok := s.batches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &batch, nil
}

func (s *Store) UpdateBatch(ctx context.Context, id string, patch store.BatchPatch) (*domain.StockBatch, error) {
	release, err := s.locks.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	oldLot := batch.LotNo
	if patch.LotNo != nil {
		lot := strings.TrimSpace(*patch.LotNo)
		if lot == "" {
			return nil, store.ErrInvalidInput
		}
		if owner, exists := s.lotIndex[lot]; exists && owner != id {
			return nil, store.ErrDuplicateLot
		}
		batch.LotNo = lot
	}
	if patch.SupplierName != nil {
		batch.SupplierName = *patch.SupplierName
	}
	if patch.SeedName != nil {
		batch.SeedName = *patch.SeedName
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

	s.batches[id] = batch
	if batch.LotNo != oldLot {
		delete(s.lotIndex, oldLot)
		s.lotIndex[batch.LotNo] = id
	}
	updated := batch
	return &updated, nil
}

func (s *Store) DeleteBatch(ctx context.Context, id string) error {
	release, err := s.locks.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[id]
	if !ok {
		return store.ErrNotFound
	}
	for _, sale := range s.sales {
		if sale.StockBatchID == id {
			return store.ErrBatchInUse
		}
	}
	delete(s.batches, id)
	delete(s.lotIndex, batch.LotNo)
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx := &memTx{
		s:        s,
		held:     make(map[string]func()),
		reserved: make(map[string]int),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

func (s *Store) ListSales(_ context.Context, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = domain.RecentSalesLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		batch, ok := s.batches[sale.StockBatchID]
		if !ok {
			continue
		}
		sale.SeedName = batch.SeedName
		sale.LotNo = batch.LotNo
		sale.Derive()
		sales = append(sales, sale)
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if c := b.SaleDate.Compare(a.SaleDate); c != 0 {
			return c
		}
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.saleViewLocked(id)
}

func (s *Store) FindSaleByIdempotency(_ context.Context, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.salesByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.saleViewLocked(id)
}

func (s *Store) UpdateSale(_ context.Context, id string, patch domain.SaleUpdateRequest) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if patch.CustomerName != nil {
		sale.CustomerName = *patch.CustomerName
	}
	if patch.TotalAmountDue != nil {
		sale.TotalAmountDue = *patch.TotalAmountDue
	}
	if patch.AmountPaid != nil {
		sale.AmountPaid = *patch.AmountPaid
	}
	s.sales[id] = sale
	return s.saleViewLocked(id)
}

// DeleteSale removes a sale and returns its packets to the batch, holding the
// batch slot so the restock cannot interleave with a reservation.
func (s *Store) DeleteSale(ctx context.Context, id string) error {
	s.mu.RLock()
	sale, ok := s.sales[id]
	s.mu.RUnlock()
	if !ok {
		return store.ErrNotFound
	}

	release, err := s.locks.Acquire(ctx, sale.StockBatchID)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok = s.sales[id]
	if !ok {
		return store.ErrNotFound
	}
	if batch, exists := s.batches[sale.StockBatchID]; exists {
		batch.PacketsAvailable += sale.PacketsSold
		s.batches[batch.ID] = batch
	}
	delete(s.sales, id)
	if sale.IdempotencyKey != "" {
		delete(s.salesByIdem, sale.IdempotencyKey)
	}
	return nil
}

func (s *Store) ApplyPayment(_ context.Context, saleID string, amount decimal.Decimal) (*domain.Sale, error) {
	if !amount.IsPositive() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	sale.AmountPaid = sale.AmountPaid.Add(amount)
	s.sales[saleID] = sale
	return s.saleViewLocked(saleID)
}

func (s *Store) SettleSale(_ context.Context, saleID string) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if sale.AmountPaid.LessThan(sale.TotalAmountDue) {
		sale.AmountPaid = sale.TotalAmountDue
		s.sales[saleID] = sale
	}
	return s.saleViewLocked(saleID)
}

func (s *Store) CreateExpense(_ context.Context, expense domain.Expense) (*domain.Expense, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	s.expenses[expense.ID] = expense
	created := expense
	return &created, nil
}

func (s *Store) ListExpenses(_ context.Context) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expenses := make([]domain.Expense, 0, len(s.expenses))
	for _, e := range s.expenses {
		expenses = append(expenses, e)
	}
	slices.SortFunc(expenses, func(a, b domain.Expense) int {
		if c := b.ExpenseDate.Compare(a.ExpenseDate); c != 0 {
			return c
		}
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return expenses, nil
}

func (s *Store) UpdateExpense(_ context.Context, id string, patch store.ExpensePatch) (*domain.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expense, ok := s.expenses[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if patch.Category != nil {
		expense.Category = *patch.Category
	}
	if patch.Amount != nil {
		if !patch.Amount.IsPositive() {
			return nil, store.ErrInvalidInput
		}
		expense.Amount = *patch.Amount
	}
	if patch.Description != nil {
		expense.Description = *patch.Description
	}
	if patch.ExpenseDate != nil {
		expense.ExpenseDate = *patch.ExpenseDate
	}
	s.expenses[id] = expense
	updated := expense
	return &updated, nil
}

func (s *Store) DeleteExpense(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.expenses[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.expenses, id)
	return nil
}

func (s *Store) Totals(_ context.Context) (domain.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := domain.Stats{
		TotalCollection:     decimal.Zero,
		TotalSalesValue:     decimal.Zero,
		StockPurchasedValue: decimal.Zero,
		HomeExpenses:        decimal.Zero,
	}
	for _, sale := range s.sales {
		stats.TotalCollection = stats.TotalCollection.Add(sale.AmountPaid)
		stats.TotalSalesValue = stats.TotalSalesValue.Add(sale.TotalAmountDue)
	}
	for _, batch := range s.batches {
		stats.StockPurchasedValue = stats.StockPurchasedValue.Add(batch.TotalStockValue)
	}
	for _, expense := range s.expenses {
		stats.HomeExpenses = stats.HomeExpenses.Add(expense.Amount)
	}
	return stats, nil
}

func (s *Store) saleViewLocked(id string) (*domain.Sale, error) {
	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if batch, exists := s.batches[sale.StockBatchID]; exists {
		sale.SeedName = batch.SeedName
		sale.LotNo = batch.LotNo
	}
	sale.Derive()
	return &sale, nil
}

// memTx stages reservations and sale rows; nothing is visible to other
// goroutines until commit.
type memTx struct {
	s        *Store
	held     map[string]func()
	reserved map[string]int
	sales    []domain.Sale
}

func (t *memTx) lock(ctx context.Context, batchID string) error {
	if _, ok := t.held[batchID]; ok {
		return nil
	}
	release, err := t.s.locks.Acquire(ctx, batchID)
	if err != nil {
		return err
	}
	t.held[batchID] = release
	return nil
}

func (t *memTx) ReserveAndDecrement(ctx context.Context, batchID string, qty int) (*domain.StockBatch, error) {
	if qty < 1 {
		return nil, store.ErrInvalidInput
	}
	if err := t.lock(ctx, batchID); err != nil {
		return nil, err
	}

	t.s.mu.RLock()
	batch, ok := t.s.batches[batchID]
	t.s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}

	available := batch.PacketsAvailable - t.reserved[batchID]
	if qty > available {
		return nil, store.ErrInsufficientStock
	}
	t.reserved[batchID] += qty
	batch.PacketsAvailable = available - qty
	return &batch, nil
}

func (t *memTx) InsertSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
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

	if sale.IdempotencyKey != "" {
		t.s.mu.RLock()
		_, exists := t.s.salesByIdem[sale.IdempotencyKey]
		t.s.mu.RUnlock()
		if exists {
			return nil, store.ErrDuplicateSale
		}
	}

	t.sales = append(t.sales, sale)
	created := sale
	created.Derive()
	return &created, nil
}

func (t *memTx) commit() error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	for id, qty := range t.reserved {
		batch, ok := t.s.batches[id]
		if !ok {
			return store.ErrNotFound
		}
		if batch.PacketsAvailable < qty {
			return store.ErrInsufficientStock
		}
	}
	for _, sale := range t.sales {
		if _, ok := t.s.batches[sale.StockBatchID]; !ok {
			return store.ErrNotFound
		}
		if sale.IdempotencyKey != "" {
			if _, exists := t.s.salesByIdem[sale.IdempotencyKey]; exists {
				return store.ErrDuplicateSale
			}
		}
	}

	for id, qty := range t.reserved {
		batch := t.s.batches[id]
		batch.PacketsAvailable -= qty
		t.s.batches[id] = batch
	}
	for _, sale := range t.sales {
		t.s.sales[sale.ID] = sale
		if sale.IdempotencyKey != "" {
			t.s.salesByIdem[sale.IdempotencyKey] = sale.ID
		}
	}
	return nil
}

func (t *memTx) release() {
	for _, release := range t.held {
		release()
	}
}

func nowDateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}
