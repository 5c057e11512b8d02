package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"seedledger/internal/domain"
	"seedledger/internal/metrics"
	"seedledger/internal/service"
	"seedledger/internal/store"
)

const maxBodyBytes = 1 << 20

// Error codes carried in the "code" field of every error body.
const (
	CodeValidation        = "validation"
	CodeNotFound          = "not_found"
	CodeDuplicateLot      = "duplicate_lot"
	CodeDuplicateSale     = "duplicate_sale"
	CodeInsufficientStock = "insufficient_stock"
	CodeBatchInUse        = "batch_in_use"
	CodeStoreError        = "store_error"
)

type API struct {
	service       *service.Service
	log           *zap.Logger
	metrics       *metrics.Metrics
	allowedOrigin string
}

func New(svc *service.Service, log *zap.Logger, m *metrics.Metrics, allowedOrigin string) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{
		service:       svc,
		log:           log,
		metrics:       m,
		allowedOrigin: strings.TrimSpace(allowedOrigin),
	}
}

func (a *API) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(a.requestLogger())
	r.Use(securityHeaders())
	r.Use(cors.New(a.corsConfig()))

	r.GET("/healthz", a.handleHealth)
	r.GET("/metrics", gin.WrapH(a.metrics.Handler()))

	v1 := r.Group("/api/v1")

	v1.POST("/stock-batches", a.handleCreateBatch)
	v1.GET("/stock-batches", a.handleListBatches)
	v1.GET("/stock-batches/:id", a.handleGetBatch)
	v1.PATCH("/stock-batches/:id", a.handleUpdateBatch)
	v1.DELETE("/stock-batches/:id", a.handleDeleteBatch)

	v1.POST("/sales", a.handleRecordSale)
	v1.GET("/sales", a.handleListSales)
	v1.GET("/sales/:id", a.handleGetSale)
	v1.PATCH("/sales/:id", a.handleUpdateSale)
	v1.DELETE("/sales/:id", a.handleDeleteSale)
	v1.PATCH("/sales/:id/payment", a.handleApplyPayment)
	v1.POST("/sales/:id/settle", a.handleSettle)

	v1.POST("/expenses", a.handleCreateExpense)
	v1.GET("/expenses", a.handleListExpenses)
	v1.PATCH("/expenses/:id", a.handleUpdateExpense)
	v1.DELETE("/expenses/:id", a.handleDeleteExpense)

	v1.GET("/stats", a.handleStats)
	v1.GET("/export/ledger.xlsx", a.handleExportLedger)

	return r
}

func (a *API) corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	if a.allowedOrigin == "" || a.allowedOrigin == "*" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = strings.Split(a.allowedOrigin, ",")
		for i := range cfg.AllowOrigins {
			cfg.AllowOrigins[i] = strings.TrimSpace(cfg.AllowOrigins[i])
		}
	}
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions}
	cfg.AddExposeHeaders("Content-Disposition")
	return cfg
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

func (a *API) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()
		a.metrics.ObserveRequest(c.Request.Method, c.FullPath(), status, elapsed)
		a.log.Info("request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", elapsed),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

func (a *API) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleCreateBatch(c *gin.Context) {
	var req domain.StockBatchCreateRequest
	if !a.bind(c, &req) {
		return
	}
	batch, err := a.service.CreateBatch(c.Request.Context(), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, batch)
}

func (a *API) handleListBatches(c *gin.Context) {
	batches, err := a.service.ListBatches(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, batches)
}

func (a *API) handleGetBatch(c *gin.Context) {
	batch, err := a.service.GetBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (a *API) handleUpdateBatch(c *gin.Context) {
	var req domain.StockBatchUpdateRequest
	if !a.bind(c, &req) {
		return
	}
	batch, err := a.service.UpdateBatch(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (a *API) handleDeleteBatch(c *gin.Context) {
	if err := a.service.DeleteBatch(c.Request.Context(), c.Param("id")); err != nil {
		a.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleRecordSale answers 201 for a new sale and 200 for an idempotent replay.
// Stock and lookup failures surface as 500 with a distinguishing code.
func (a *API) handleRecordSale(c *gin.Context) {
	var req domain.SaleCreateRequest
	if !a.bind(c, &req) {
		return
	}
	resp, err := a.service.RecordSale(c.Request.Context(), req)
	if err != nil {
		status, code, field := classify(err)
		if code == CodeInsufficientStock || code == CodeNotFound {
			status = http.StatusInternalServerError
		}
		a.respondError(c, status, code, field, err)
		return
	}
	if resp.Duplicate {
		c.JSON(http.StatusOK, resp)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (a *API) handleListSales(c *gin.Context) {
	sales, err := a.service.ListSales(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sales)
}

func (a *API) handleGetSale(c *gin.Context) {
	sale, err := a.service.GetSale(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

func (a *API) handleUpdateSale(c *gin.Context) {
	var req domain.SaleUpdateRequest
	if !a.bind(c, &req) {
		return
	}
	sale, err := a.service.UpdateSale(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

func (a *API) handleDeleteSale(c *gin.Context) {
	if err := a.service.DeleteSale(c.Request.Context(), c.Param("id")); err != nil {
		a.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) handleApplyPayment(c *gin.Context) {
	var req domain.PaymentRequest
	if !a.bind(c, &req) {
		return
	}
	sale, err := a.service.ApplyPayment(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

func (a *API) handleSettle(c *gin.Context) {
	sale, err := a.service.Settle(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

func (a *API) handleCreateExpense(c *gin.Context) {
	var req domain.ExpenseCreateRequest
	if !a.bind(c, &req) {
		return
	}
	expense, err := a.service.CreateExpense(c.Request.Context(), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, expense)
}

func (a *API) handleListExpenses(c *gin.Context) {
	expenses, err := a.service.ListExpenses(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, expenses)
}

func (a *API) handleUpdateExpense(c *gin.Context) {
	var req domain.ExpenseUpdateRequest
	if !a.bind(c, &req) {
		return
	}
	expense, err := a.service.UpdateExpense(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, expense)
}

func (a *API) handleDeleteExpense(c *gin.Context) {
	if err := a.service.DeleteExpense(c.Request.Context(), c.Param("id")); err != nil {
		a.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) handleStats(c *gin.Context) {
	stats, err := a.service.Stats(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (a *API) handleExportLedger(c *gin.Context) {
	var buf bytes.Buffer
	if err := a.service.ExportLedger(c.Request.Context(), &buf); err != nil {
		a.writeError(c, err)
		return
	}
	filename := fmt.Sprintf("ledger-%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// bind decodes a JSON body strictly. It writes the 400 itself and reports
// whether the handler should continue.
func (a *API) bind(c *gin.Context, dest any) bool {
	if err := decodeJSON(c.Writer, c.Request, dest); err != nil {
		a.respondError(c, http.StatusBadRequest, CodeValidation, "", fmt.Errorf("invalid JSON body: %w", err))
		return false
	}
	return true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

// classify maps an engine error to its HTTP status, error code and offending field.
func classify(err error) (int, string, string) {
	var vErr *store.ValidationError
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest, CodeValidation, vErr.Field
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest, CodeValidation, ""
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, CodeNotFound, ""
	case errors.Is(err, store.ErrDuplicateLot):
		return http.StatusConflict, CodeDuplicateLot, "lot_no"
	case errors.Is(err, store.ErrBatchInUse):
		return http.StatusConflict, CodeBatchInUse, ""
	case errors.Is(err, store.ErrDuplicateSale):
		return http.StatusConflict, CodeDuplicateSale, "idempotency_key"
	case errors.Is(err, store.ErrInsufficientStock):
		return http.StatusConflict, CodeInsufficientStock, "packets_sold"
	}
	return http.StatusInternalServerError, CodeStoreError, ""
}

func (a *API) writeError(c *gin.Context, err error) {
	status, code, field := classify(err)
	a.respondError(c, status, code, field, err)
}

// respondError never echoes store error text; it is logged instead.
func (a *API) respondError(c *gin.Context, status int, code string, field string, err error) {
	msg := err.Error()
	if code == CodeStoreError {
		a.log.Error("internal error",
			zap.Int("status", status),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		msg = "internal server error"
	}

	body := gin.H{"error": msg, "code": code}
	if field != "" {
		body["field"] = field
	}
	c.AbortWithStatusJSON(status, body)
}
