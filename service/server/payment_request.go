package server

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	"github.com/brojonat/remit/service/config"
	"github.com/brojonat/remit/service/solana"
)

// PaymentRequest describes a transfer a wallet app can execute from a Solana Pay link.
type PaymentRequest struct {
	Reference  string    `json:"reference"`
	Receiver   string    `json:"receiver"`
	Network    string    `json:"network"`
	Mint       string    `json:"mint"`
	Amount     string    `json:"amount,omitempty"`
	Memo       string    `json:"memo,omitempty"`
	PaymentURL string    `json:"payment_url"`
	QRCodeData string    `json:"qr_code_data,omitempty"` // base64 PNG
	CreatedAt  time.Time `json:"created_at"`
}

// handlePaymentRequest returns a handler that builds a Solana Pay request for the configured mint.
// GET /api/v1/payment-requests?receiver=&amount=&memo=&label=&message=
func handlePaymentRequest(cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		receiver := query.Get("receiver")
		if err := validateAddress(receiver); err != nil {
			writeError(w, "receiver: "+err.Error(), http.StatusBadRequest)
			return
		}
		if _, err := solana.ParseAddress(receiver); err != nil {
			writeError(w, "receiver: "+err.Error(), http.StatusBadRequest)
			return
		}

		var amount string
		if raw := query.Get("amount"); raw != "" {
			parsed, err := solana.ParseAmount(raw)
			if err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			if _, err := solana.ToBaseUnits(parsed, cfg.TokenDecimals); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			amount = parsed.String()
		}

		memo := query.Get("memo")
		if err := solana.ValidateMemo(memo); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		req := newPaymentRequest(cfg, receiver, amount, memo, query.Get("label"), query.Get("message"))

		qr, err := generateQRCode(req.PaymentURL)
		if err != nil {
			logger.WarnContext(r.Context(), "failed to render payment QR code", "reference", req.Reference, "error", err)
		}
		req.QRCodeData = qr

		writeJSON(w, req, http.StatusOK)
	})
}

func newPaymentRequest(cfg *config.Config, receiver, amount, memo, label, message string) PaymentRequest {
	reference := uuid.New().String()
	if memo == "" {
		memo = reference
	}

	return PaymentRequest{
		Reference:  reference,
		Receiver:   receiver,
		Network:    cfg.SolanaNetwork,
		Mint:       cfg.TokenMintAddress,
		Amount:     amount,
		Memo:       memo,
		PaymentURL: buildSolanaPayURL(receiver, amount, cfg.TokenMintAddress, memo, label, message),
		CreatedAt:  time.Now(),
	}
}

// buildSolanaPayURL creates a Solana Pay transfer request URL.
// Format: solana:{recipient}?amount={amount}&spl-token={mint}&memo={memo}&label={label}&message={message}
func buildSolanaPayURL(recipient, amount, mint, memo, label, message string) string {
	params := url.Values{}
	if amount != "" {
		params.Set("amount", amount)
	}
	params.Set("spl-token", mint)
	if memo != "" {
		params.Set("memo", memo)
	}
	if label != "" {
		params.Set("label", label)
	}
	if message != "" {
		params.Set("message", message)
	}

	return fmt.Sprintf("solana:%s?%s", recipient, params.Encode())
}

// generateQRCode creates a QR code image from a payment URL and returns it as base64-encoded PNG.
func generateQRCode(data string) (string, error) {
	qr, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to create QR code: %w", err)
	}

	png, err := qr.PNG(256)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code as PNG: %w", err)
	}

	return base64.StdEncoding.EncodeToString(png), nil
}
