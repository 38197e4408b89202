// Package payments receives payment processor callbacks and records their
// outcome against appointments. Payment state never decides whether an
// appointment exists.
package payments

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// MetadataKey is the Stripe metadata field carrying the appointment id.
const MetadataKey = "appointment_id"

const maxPayloadBytes = 64 << 10

// ErrUnknownAppointment is returned by a Recorder when the appointment does
// not exist. The event is acknowledged so Stripe stops redelivering it.
var ErrUnknownAppointment = errors.New("unknown appointment")

// Recorder stores a payment outcome ("paid", "failed", "refunded").
type Recorder interface {
	RecordPayment(ctx context.Context, appointmentID uuid.UUID, status string) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, appointmentID uuid.UUID, status string) error

func (f RecorderFunc) RecordPayment(ctx context.Context, appointmentID uuid.UUID, status string) error {
	return f(ctx, appointmentID, status)
}

// statusFor maps the Stripe events we care about onto payment states.
var statusFor = map[stripe.EventType]string{
	"checkout.session.completed":    "paid",
	"payment_intent.succeeded":      "paid",
	"payment_intent.payment_failed": "failed",
	"charge.refunded":               "refunded",
}

// StripeWebhook verifies and applies Stripe events.
type StripeWebhook struct {
	secret   string
	recorder Recorder
	log      zerolog.Logger
}

func NewStripeWebhook(secret string, recorder Recorder, log zerolog.Logger) *StripeWebhook {
	return &StripeWebhook{secret: secret, recorder: recorder, log: log}
}

func (h *StripeWebhook) RegisterRoutes(e *echo.Echo) {
	e.POST("/webhooks/stripe", h.Handle)
}

func (h *StripeWebhook) Handle(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPayloadBytes))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	event, err := webhook.ConstructEventWithOptions(payload, c.Request().Header.Get("Stripe-Signature"), h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.log.Warn().Err(err).Msg("stripe signature rejected")
		return echo.NewHTTPError(http.StatusBadRequest, "invalid signature")
	}

	status, ok := statusFor[event.Type]
	if !ok {
		return c.NoContent(http.StatusOK)
	}
	appointmentID, ok := appointmentFrom(event)
	if !ok {
		h.log.Warn().Str("event_id", event.ID).Str("type", string(event.Type)).
			Msg("stripe event without appointment metadata")
		return c.NoContent(http.StatusOK)
	}

	err = h.recorder.RecordPayment(c.Request().Context(), appointmentID, status)
	switch {
	case errors.Is(err, ErrUnknownAppointment):
		h.log.Warn().Str("event_id", event.ID).Str("appointment_id", appointmentID.String()).
			Msg("stripe event for unknown appointment")
	case err != nil:
		h.log.Error().Err(err).Str("event_id", event.ID).Msg("record payment failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "record payment failed")
	default:
		h.log.Info().Str("event_id", event.ID).Str("appointment_id", appointmentID.String()).
			Str("payment_status", status).Msg("payment recorded")
	}
	return c.NoContent(http.StatusOK)
}

// appointmentFrom reads metadata.appointment_id from the event object.
func appointmentFrom(event stripe.Event) (uuid.UUID, bool) {
	if event.Data == nil {
		return uuid.Nil, false
	}
	meta, ok := event.Data.Object["metadata"].(map[string]interface{})
	if !ok {
		return uuid.Nil, false
	}
	raw, ok := meta[MetadataKey].(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
