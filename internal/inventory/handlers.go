package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler serves the product API.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

func fail(c *gin.Context, status int, summary string, details ...string) {
	body := gin.H{"success": false, "error": summary}
	if len(details) > 0 {
		body["details"] = details[0]
	}
	c.AbortWithStatusJSON(status, body)
}

func (h *Handler) storageError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		fail(c, http.StatusNotFound, "Product not found")
	case errors.Is(err, ErrDuplicateSKU):
		fail(c, http.StatusConflict, "Product SKU already exists")
	default:
		h.logger.Error("product operation failed", "operation", op, "error", err)
		fail(c, http.StatusInternalServerError, "Failed to "+op+" product")
	}
}

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}

// List handles GET /api/products.
func (h *Handler) List(c *gin.Context) {
	offset := queryInt(c, "offset", 0)
	limit := queryInt(c, "limit", DefaultPageSize)

	products, total, err := h.service.List(c.Request.Context(), offset, limit)
	if err != nil {
		h.storageError(c, "list", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"products": products,
		"total":    total,
		"offset":   offset,
		"limit":    limit,
	})
}

// Get handles GET /api/products/:id.
func (h *Handler) Get(c *gin.Context) {
	p, fromCache, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.storageError(c, "get", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"product":    p,
		"from_cache": fromCache,
	})
}

// Search handles GET /api/search?q=.
func (h *Handler) Search(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		fail(c, http.StatusBadRequest, "Query parameter q is required")
		return
	}

	products, err := h.service.Search(c.Request.Context(), q, queryInt(c, "limit", DefaultPageSize))
	if err != nil {
		h.storageError(c, "search", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"query":    q,
		"products": products,
		"count":    len(products),
	})
}

func (h *Handler) Create(c *gin.Context) {
	var req CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid product", err.Error())
		return
	}

	p, err := h.service.Create(c.Request.Context(), &req)
	if err != nil {
		h.storageError(c, "create", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "product": p})
}

func (h *Handler) Update(c *gin.Context) {
	var req UpdateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid product", err.Error())
		return
	}

	p, err := h.service.Update(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		h.storageError(c, "update", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "product": p})
}

func (h *Handler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.storageError(c, "delete", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": c.Param("id")})
}
