package protocol

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hansl/specification/pkg/address"
	"github.com/hansl/specification/pkg/identity"
)

// HandlerFunc serves one authenticated request. sender is the address that
// sealed the envelope and has already been checked against req.From.
type HandlerFunc func(ctx context.Context, sender address.Address, req *RequestMessage) *ResponseMessage

// Handler exposes a HandlerFunc over HTTP, sealing every response as id.
type Handler struct {
	id     identity.Identity
	fn     HandlerFunc
	logger *slog.Logger
	clock  func() time.Time
}

func NewHandler(id identity.Identity, fn HandlerFunc) *Handler {
	return &Handler{
		id:     id,
		fn:     fn,
		logger: slog.Default().With("component", "protocol_handler"),
		clock:  time.Now,
	}
}

// WithClock overrides clock for testing.
func (h *Handler) WithClock(clock func() time.Time) *Handler {
	h.clock = clock
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	env, err := OpenEnvelope(raw)
	if err != nil {
		h.logger.WarnContext(r.Context(), "rejected envelope", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req, err := DecodeRequest(env.Payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var resp *ResponseMessage
	sender := env.Sender()
	if sender != req.From {
		resp = &ResponseMessage{Error: &RemoteError{
			Code:      ErrCodeSenderMismatch,
			Message:   "request from {from} was sealed by {sender}",
			Arguments: map[string]string{"from": req.From.String(), "sender": sender.String()},
		}}
	} else {
		resp = h.fn(r.Context(), sender, req)
	}
	resp.Version = Version
	resp.From = h.id.Address()
	resp.To = req.From
	resp.ID = req.ID
	resp.Timestamp = h.clock().Unix()

	if err := h.write(w, resp); err != nil {
		h.logger.ErrorContext(r.Context(), "write response", "error", err)
	}
}

func (h *Handler) write(w http.ResponseWriter, resp *ResponseMessage) error {
	payload, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	env, err := Seal(h.id, payload)
	if err != nil {
		return err
	}
	body, err := env.Encode()
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", ContentType)
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("protocol: write body: %w", err)
	}
	return nil
}

// Well-known remote error codes.
const (
	ErrCodeUnknown          int64 = 0
	ErrCodeUnknownMethod    int64 = 1
	ErrCodeInvalidArguments int64 = 2
	ErrCodeSenderMismatch   int64 = 3
)

// Errorf builds an error response.
func Errorf(code int64, message string, args map[string]string) *ResponseMessage {
	return &ResponseMessage{Error: &RemoteError{Code: code, Message: message, Arguments: args}}
}
