package flags

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"fraudwatch/internal/logging"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// Handler serves the read-side REST API over the flag and transaction logs.
type Handler struct {
	store Store
}

// NewHandler creates a handler backed by the given store.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// ListFlags handles GET /v1/flags?after=<id>&limit=<n>
// It pages over the flag log in id order, the same cursor contract the
// alert feed uses.
func (h *Handler) ListFlags(c *gin.Context) {
	ctx := c.Request.Context()

	after, err := parseInt64Query(c, "after", 0)
	if err != nil || after < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_after",
			"message": "after must be a non-negative integer",
		})
		return
	}

	limit, err := parseInt64Query(c, "limit", defaultPageLimit)
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_limit",
			"message": "limit must be a positive integer",
		})
		return
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	list, err := h.store.ListFlagsAfter(ctx, after, int(limit))
	if err != nil {
		logging.L(ctx).Error("failed to list flags", "after", after, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list fraud flags",
		})
		return
	}

	next := after
	if len(list) > 0 {
		next = list[len(list)-1].ID
	}

	c.JSON(http.StatusOK, gin.H{
		"flags":      list,
		"count":      len(list),
		"nextCursor": next,
	})
}

// GetTransaction handles GET /v1/transactions/:txnId
func (h *Handler) GetTransaction(c *gin.Context) {
	ctx := c.Request.Context()
	txnID := c.Param("txnId")

	txn, err := h.store.GetTransaction(ctx, txnID)
	if err != nil {
		if errors.Is(err, ErrTxnNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No transaction with this id has been processed",
			})
			return
		}
		logging.L(ctx).Error("failed to get transaction", "txn_id", txnID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load transaction",
		})
		return
	}

	c.JSON(http.StatusOK, txn)
}

func parseInt64Query(c *gin.Context, name string, def int64) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
