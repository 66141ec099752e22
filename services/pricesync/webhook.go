package pricesync

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// invoiceID tolerates the ERP sending the id as either a json string or a
// bare number.
type invoiceID string

func (id *invoiceID) UnmarshalJSON(b []byte) error {
	*id = invoiceID(strings.Trim(string(b), `"`))
	return nil
}

// WebhookEvent is the notification body the ERP posts on invoice status
// changes. Only the fields the gate reads are declared.
type WebhookEvent struct {
	Dados struct {
		CodigoSituacao string    `json:"codigoSituacao"`
		IdNotaFiscal   invoiceID `json:"idNotaFiscal"`
	} `json:"dados"`
}

type webhookResponse struct {
	Time       string `json:"time"`
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

func writeResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(webhookResponse{
		Time:       time.Now().UTC().Format(time.RFC3339),
		StatusCode: status,
		Message:    message,
	})
}

// RegisterRoutes mounts the webhook intake on a mux.
func (s Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhook/{store}/{marketplace}", s.handleWebhook)
}

// handleWebhook gates incoming notifications: only "preparando_envio" events
// carrying a real invoice id for a store with the bot switched on start the
// rewrite sequence.
func (s Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	storeName := r.PathValue("store")
	marketplace := r.PathValue("marketplace")

	var event WebhookEvent
	err := json.NewDecoder(r.Body).Decode(&event)
	if err != nil {
		writeResponse(w, http.StatusBadRequest, "unreadable webhook body")
		return
	}

	invoiceID := string(event.Dados.IdNotaFiscal)
	if event.Dados.CodigoSituacao != "preparando_envio" || invoiceID == "" || invoiceID == "0" {
		writeResponse(w, http.StatusOK, "event ignored")
		return
	}

	store, err := s.qry.GetStore(ctx, storeName)
	if errors.Is(err, sql.ErrNoRows) {
		writeResponse(w, http.StatusNotFound, "unknown store "+storeName)
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "store lookup failed", "store", storeName, "err", err)
		writeResponse(w, http.StatusInternalServerError, "store lookup failed")
		return
	}
	if !store.BotActive {
		writeResponse(w, http.StatusOK, "price sync is not active for "+storeName)
		return
	}

	err = s.SyncInvoice(ctx, store, marketplace, invoiceID)
	if err != nil {
		slog.ErrorContext(ctx, "invoice sync failed",
			"invoice", invoiceID, "store", storeName, "err", err)
		writeResponse(w, http.StatusBadGateway, err.Error())
		return
	}
	writeResponse(w, http.StatusOK, "invoice "+invoiceID+" sent")
}
