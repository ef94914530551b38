package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"iapBack/internal/models"
	"iapBack/internal/services"
)

type ProductStore interface {
	ListProducts(ctx context.Context) ([]models.Product, error)
	GetProductByID(ctx context.Context, id string) (*models.Product, error)
	CreateProduct(ctx context.Context, p models.Product) (*models.Product, error)
	UpdateProduct(ctx context.Context, p models.Product) (*models.Product, error)
}

// ProductHandler manages the catalog used for pricing purchases.
type ProductHandler struct {
	Store ProductStore
	Log   services.Logger
}

func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Store.ListProducts(r.Context())
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if products == nil {
		products = []models.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := routeID(w, r, "product")
	if !ok {
		return
	}
	product, err := h.Store.GetProductByID(r.Context(), id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if product == nil {
		clientError(w, http.StatusNotFound, "product not found")
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (h *ProductHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var product models.Product
	if err := json.NewDecoder(r.Body).Decode(&product); err != nil {
		clientError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := product.Validate(); err != nil {
		clientError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.Store.CreateProduct(r.Context(), product)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *ProductHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := routeID(w, r, "product")
	if !ok {
		return
	}

	var product models.Product
	if err := json.NewDecoder(r.Body).Decode(&product); err != nil {
		clientError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	product.ID = id
	if err := product.Validate(); err != nil {
		clientError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.Store.UpdateProduct(r.Context(), product)
	if err != nil {
		if errors.Is(err, models.ErrNoRecord) {
			clientError(w, http.StatusNotFound, "product not found")
			return
		}
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
