package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/swiftride/ridepay/internal/api/httpx"
	"github.com/swiftride/ridepay/internal/api/validate"
	"github.com/swiftride/ridepay/internal/config"
	"github.com/swiftride/ridepay/internal/errs"
	"github.com/swiftride/ridepay/internal/metrics"
	"github.com/swiftride/ridepay/internal/middleware"
	"github.com/swiftride/ridepay/internal/models"
	"github.com/swiftride/ridepay/internal/services"
)

func NewRouter(cfg config.Config, am *middleware.AuthMiddleware, ps *services.PaymentService, bs *services.BalanceService) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover, middleware.HTTPMetrics, middleware.RateLimit(cfg.RateRPS))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// webhook is authenticated by signature, not by bearer token
		r.Post("/webhooks/paystack", func(w http.ResponseWriter, r *http.Request) {
			payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			if err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "bad_request", "unreadable body", nil)
				return
			}
			headers := map[string]string{}
			for k := range r.Header {
				headers[k] = r.Header.Get(k)
			}
			if err := ps.HandleWebhook(r.Context(), payload, headers); err != nil {
				writeServiceError(w, err, "")
				return
			}
			httpx.WriteData(w, http.StatusOK, map[string]string{"status": "acknowledged"}, "")
		})

		r.Group(func(r chi.Router) {
			r.Use(am.Auth)

			r.Post("/payments", func(w http.ResponseWriter, r *http.Request) {
				userID, _ := middleware.UserID(r.Context())
				var req struct {
					Amount        int64             `json:"amount"`
					Currency      string            `json:"currency"`
					RideID        string            `json:"ride_id"`
					Email         string            `json:"email"`
					PaymentMethod string            `json:"payment_method"`
					Metadata      map[string]string `json:"metadata"`
				}
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid body", nil)
					return
				}
				tx, err := ps.Initiate(r.Context(), services.InitiateInput{
					UserID:        userID,
					RideID:        req.RideID,
					Amount:        req.Amount,
					Currency:      req.Currency,
					Email:         req.Email,
					PaymentMethod: req.PaymentMethod,
					Metadata:      req.Metadata,
				})
				if err != nil {
					writeServiceError(w, err, tx.ID)
					return
				}
				if tx.Status == models.TxnFailed {
					// The record exists and is returned so the caller
					// can re-poll; the payment itself did not start.
					httpx.WriteJSON(w, http.StatusBadGateway, httpx.Envelope{
						Success:       false,
						Error:         "payment could not be started",
						Code:          "gateway_error",
						Data:          tx,
						TransactionID: tx.ID,
					})
					return
				}
				httpx.WriteData(w, http.StatusCreated, tx, tx.ID)
			})

			r.Get("/payments/verify/{reference}", func(w http.ResponseWriter, r *http.Request) {
				tx, err := ps.Verify(r.Context(), chi.URLParam(r, "reference"))
				if err != nil {
					writeServiceError(w, err, tx.ID)
					return
				}
				httpx.WriteData(w, http.StatusOK, tx, tx.ID)
			})

			r.Post("/payments/refund", func(w http.ResponseWriter, r *http.Request) {
				var req struct {
					Reference string `json:"reference"`
					Amount    int64  `json:"amount"`
					Reason    string `json:"reason"`
				}
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid body", nil)
					return
				}
				if ef := validate.Required("reference", req.Reference); ef != nil {
					httpx.WriteError(w, http.StatusBadRequest, "validation_error", validate.Errs{*ef}.Error(), nil)
					return
				}
				out, err := ps.Refund(r.Context(), services.RefundInput{
					Reference: req.Reference,
					Amount:    req.Amount,
					Reason:    req.Reason,
				})
				if err != nil {
					writeServiceError(w, err, "")
					return
				}
				httpx.WriteData(w, http.StatusOK, out, out.Original.ID)
			})

			r.Get("/transactions/{id}", func(w http.ResponseWriter, r *http.Request) {
				tx, err := ps.GetTransaction(r.Context(), chi.URLParam(r, "id"))
				if err != nil {
					writeServiceError(w, err, "")
					return
				}
				httpx.WriteData(w, http.StatusOK, tx, tx.ID)
			})

			r.Get("/transactions", func(w http.ResponseWriter, r *http.Request) {
				userID, _ := middleware.UserID(r.Context())
				limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
				offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
				txs, err := ps.ListUserTransactions(r.Context(), userID, limit, offset)
				if err != nil {
					writeServiceError(w, err, "")
					return
				}
				httpx.WriteData(w, http.StatusOK, txs, "")
			})

			r.Get("/balance", func(w http.ResponseWriter, r *http.Request) {
				userID, _ := middleware.UserID(r.Context())
				balance, err := bs.Available(r.Context(), userID)
				if err != nil {
					writeServiceError(w, err, "")
					return
				}
				httpx.WriteData(w, http.StatusOK, map[string]int64{"available": balance}, "")
			})

			r.Post("/cashouts", func(w http.ResponseWriter, r *http.Request) {
				userID, _ := middleware.UserID(r.Context())
				var req struct {
					Amount   int64  `json:"amount"`
					Currency string `json:"currency"`
				}
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid body", nil)
					return
				}
				if ef := validate.MinInt("amount", req.Amount, 1); ef != nil {
					httpx.WriteError(w, http.StatusBadRequest, "validation_error", validate.Errs{*ef}.Error(), nil)
					return
				}
				tx, err := bs.InitiateCashout(r.Context(), userID, req.Amount, req.Currency)
				if err != nil {
					writeServiceError(w, err, "")
					return
				}
				httpx.WriteData(w, http.StatusCreated, tx, tx.ID)
			})
		})
	})

	return r
}

func writeServiceError(w http.ResponseWriter, err error, transactionID string) {
	switch {
	case errs.IsValidation(err):
		httpx.WriteError(w, http.StatusBadRequest, "validation_error", err.Error(), transactionID)
	case errs.IsNotFound(err):
		httpx.WriteError(w, http.StatusNotFound, "not_found", err.Error(), transactionID)
	case errors.Is(err, errs.ErrInsufficientBalance):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "insufficient_balance", err.Error(), transactionID)
	case errors.Is(err, errs.ErrNotRefundable):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "not_refundable", err.Error(), transactionID)
	case errs.IsGateway(err):
		httpx.WriteError(w, http.StatusBadGateway, "gateway_error", err.Error(), transactionID)
	default:
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error", transactionID)
	}
}
