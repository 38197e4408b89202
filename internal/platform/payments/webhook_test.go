package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76/webhook"
)

const testSecret = "whsec_test123"

type call struct {
	id     uuid.UUID
	status string
}

type stubRecorder struct {
	calls []call
	err   error
}

func (s *stubRecorder) RecordPayment(_ context.Context, id uuid.UUID, status string) error {
	s.calls = append(s.calls, call{id: id, status: status})
	return s.err
}

func buildEvent(t *testing.T, eventType string, metadata map[string]string) []byte {
	t.Helper()
	evt := map[string]any{
		"id":          "evt_" + uuid.NewString()[:8],
		"object":      "event",
		"type":        eventType,
		"created":     time.Now().Unix(),
		"api_version": "2023-10-16",
		"data": map[string]any{
			"object": map[string]any{
				"id":       "pi_123",
				"object":   "payment_intent",
				"metadata": metadata,
			},
		},
	}
	data, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("failed to marshal stripe event: %v", err)
	}
	return data
}

func send(h *StripeWebhook, payload []byte, signature string) *httptest.ResponseRecorder {
	e := echo.New()
	h.RegisterRoutes(e)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func sign(payload []byte) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	return signed.Header
}

func TestStripeWebhook_RecordsPaymentOutcome(t *testing.T) {
	tests := []struct {
		eventType string
		want      string
	}{
		{"payment_intent.succeeded", "paid"},
		{"checkout.session.completed", "paid"},
		{"payment_intent.payment_failed", "failed"},
		{"charge.refunded", "refunded"},
	}
	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			rec := &stubRecorder{}
			h := NewStripeWebhook(testSecret, rec, zerolog.Nop())
			id := uuid.New()
			payload := buildEvent(t, tt.eventType, map[string]string{MetadataKey: id.String()})

			resp := send(h, payload, sign(payload))
			if resp.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
			}
			if len(rec.calls) != 1 {
				t.Fatalf("expected 1 recorded payment, got %d", len(rec.calls))
			}
			if rec.calls[0].id != id || rec.calls[0].status != tt.want {
				t.Errorf("expected %s %s, got %+v", id, tt.want, rec.calls[0])
			}
		})
	}
}

func TestStripeWebhook_InvalidSignature(t *testing.T) {
	rec := &stubRecorder{}
	h := NewStripeWebhook(testSecret, rec, zerolog.Nop())
	payload := buildEvent(t, "payment_intent.succeeded", map[string]string{MetadataKey: uuid.NewString()})

	resp := send(h, payload, "t=12345,v1=bad_signature")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if resp := send(h, payload, ""); resp.Code != http.StatusBadRequest {
		t.Errorf("missing signature: expected 400, got %d", resp.Code)
	}
	if len(rec.calls) != 0 {
		t.Error("unsigned events must not be applied")
	}
}

func TestStripeWebhook_IgnoresUnrelatedEvents(t *testing.T) {
	rec := &stubRecorder{}
	h := NewStripeWebhook(testSecret, rec, zerolog.Nop())
	payload := buildEvent(t, "customer.created", map[string]string{MetadataKey: uuid.NewString()})

	if resp := send(h, payload, sign(payload)); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if len(rec.calls) != 0 {
		t.Error("unrelated events must not record payments")
	}
}

func TestStripeWebhook_MissingMetadataAcknowledged(t *testing.T) {
	rec := &stubRecorder{}
	h := NewStripeWebhook(testSecret, rec, zerolog.Nop())
	for _, meta := range []map[string]string{nil, {MetadataKey: "not-a-uuid"}} {
		payload := buildEvent(t, "payment_intent.succeeded", meta)
		if resp := send(h, payload, sign(payload)); resp.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", resp.Code)
		}
	}
	if len(rec.calls) != 0 {
		t.Error("events without an appointment id must not record payments")
	}
}

func TestStripeWebhook_RecorderErrors(t *testing.T) {
	payload := buildEvent(t, "payment_intent.succeeded", map[string]string{MetadataKey: uuid.NewString()})

	unknown := NewStripeWebhook(testSecret, &stubRecorder{err: ErrUnknownAppointment}, zerolog.Nop())
	if resp := send(unknown, payload, sign(payload)); resp.Code != http.StatusOK {
		t.Errorf("unknown appointment: expected 200, got %d", resp.Code)
	}

	failing := NewStripeWebhook(testSecret, &stubRecorder{err: errors.New("db down")}, zerolog.Nop())
	if resp := send(failing, payload, sign(payload)); resp.Code != http.StatusInternalServerError {
		t.Errorf("store failure: expected 500 so Stripe retries, got %d", resp.Code)
	}
}

func TestRecorderFunc(t *testing.T) {
	var got string
	r := RecorderFunc(func(_ context.Context, _ uuid.UUID, status string) error {
		got = status
		return nil
	})
	if err := r.RecordPayment(context.Background(), uuid.New(), "paid"); err != nil || got != "paid" {
		t.Errorf("expected paid, got %q (%v)", got, err)
	}
}
