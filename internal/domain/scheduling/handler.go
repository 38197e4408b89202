package scheduling

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carebook/booking/internal/platform/auth"
	"github.com/carebook/booking/internal/platform/timezone"
	"github.com/carebook/booking/pkg/pagination"
)

// APIError is the JSON body of every failed request.
type APIError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type Handler struct {
	svc *Service
	log zerolog.Logger
}

func NewHandler(svc *Service, log zerolog.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/availability", h.ListAvailability)

	api.POST("/appointments", h.Book)
	api.POST("/appointments/waitlist", h.JoinWaitlist)
	api.GET("/appointments/:id", h.GetAppointment)
	api.PATCH("/appointments/:id/status", h.UpdateStatus)
	api.POST("/appointments/:id/cancel", h.Cancel)

	// Role checks are attached per route; an empty-prefix group would also
	// guard echo's catch-all not-found routes.
	requireProvider := auth.RequireRole(auth.RoleProvider)
	api.GET("/providers/:id/reservations", h.ListReservations, requireProvider)
	api.POST("/providers/:id/blocks", h.CreateBlock, requireProvider)
	api.DELETE("/blocks/:id", h.CancelBlock, requireProvider)
	api.PUT("/providers/:id/availability-profile", h.ReplaceProfile, requireProvider)
	api.PATCH("/providers/:id/availability-profile", h.PatchProfile, requireProvider)
	api.POST("/providers/:id/availability-profile/provision", h.ProvisionProfile, requireProvider)

	api.GET("/providers/:id/availability-profile", h.GetProfile)
}

func apiError(status int, code, msg string) *echo.HTTPError {
	return echo.NewHTTPError(status, APIError{Error: code, Message: msg})
}

// fail maps service errors onto HTTP responses.
func (h *Handler) fail(c echo.Context, err error) error {
	var (
		validation *ValidationError
		taken      *SlotTakenError
		invalid    *InvalidTransitionError
	)
	switch {
	case errors.As(err, &validation):
		return apiError(http.StatusBadRequest, validation.Code, validation.Message)
	case errors.As(err, &taken):
		return apiError(http.StatusConflict, "slot_taken", SlotTakenMessage)
	case errors.As(err, &invalid):
		return apiError(http.StatusUnprocessableEntity, "invalid_transition", invalid.Error())
	case errors.Is(err, ErrNotFound):
		return apiError(http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, ErrForbidden):
		return apiError(http.StatusForbidden, "forbidden", "not allowed to act on this resource")
	case errors.Is(err, ErrVersionConflict):
		return apiError(http.StatusConflict, "stale_profile", "profile was changed by someone else; reload and retry")
	case errors.Is(err, ErrServiceUnavailable):
		return apiError(http.StatusServiceUnavailable, "unavailable", "booking is temporarily unavailable, please retry")
	}
	h.log.Error().Err(err).Str("path", c.Path()).Msg("unhandled scheduling error")
	return apiError(http.StatusInternalServerError, "internal", "internal error")
}

func actorFrom(c echo.Context) (Actor, error) {
	id, ok := auth.IdentityFromContext(c.Request().Context())
	if !ok {
		return Actor{}, apiError(http.StatusUnauthorized, "unauthorized", "missing identity")
	}
	uid, err := uuid.Parse(id.UserID)
	if err != nil && id.Role != auth.RoleAdmin {
		return Actor{}, apiError(http.StatusUnauthorized, "unauthorized", "user id is not a valid identifier")
	}
	return Actor{ID: uid, Role: Role(id.Role)}, nil
}

func pathUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apiError(http.StatusBadRequest, CodeInvalidRequest, "invalid "+name)
	}
	return id, nil
}

// parseDay accepts a calendar date or an RFC 3339 instant; an instant
// contributes the date as written in its own offset.
func parseDay(s string) (timezone.Date, error) {
	if d, err := timezone.ParseDate(s); err == nil {
		return d, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return timezone.Date{}, err
	}
	return timezone.DateOf(t, t.Location()), nil
}

// -- availability --

func (h *Handler) ListAvailability(c echo.Context) error {
	if _, err := actorFrom(c); err != nil {
		return err
	}
	providerID, err := uuid.Parse(c.QueryParam("providerId"))
	if err != nil {
		return apiError(http.StatusBadRequest, CodeInvalidRequest, "providerId must be a valid identifier")
	}
	from, err := parseDay(c.QueryParam("rangeStart"))
	if err != nil {
		return apiError(http.StatusBadRequest, CodeInvalidRange, "rangeStart must be YYYY-MM-DD or RFC 3339")
	}
	to, err := parseDay(c.QueryParam("rangeEnd"))
	if err != nil {
		return apiError(http.StatusBadRequest, CodeInvalidRange, "rangeEnd must be YYYY-MM-DD or RFC 3339")
	}
	minutes := 0
	if v := c.QueryParam("duration"); v != "" {
		if minutes, err = strconv.Atoi(v); err != nil {
			return apiError(http.StatusBadRequest, CodeInvalidDuration, "duration must be a whole number of minutes")
		}
	}

	slots, err := h.svc.ListAvailability(c.Request().Context(), AvailabilityQuery{
		ProviderID: providerID, From: from, To: to, SlotMinutes: minutes,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, slots)
}

// -- appointments --

type appointmentResponse struct {
	Appointment *Reservation `json:"appointment"`
}

func (h *Handler) Book(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req BookRequest
	if err := c.Bind(&req); err != nil {
		return apiError(http.StatusBadRequest, CodeInvalidRequest, "malformed booking request")
	}
	r, err := h.svc.Book(c.Request().Context(), actor, req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, appointmentResponse{Appointment: r})
}

func (h *Handler) JoinWaitlist(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req BookRequest
	if err := c.Bind(&req); err != nil {
		return apiError(http.StatusBadRequest, CodeInvalidRequest, "malformed waitlist request")
	}
	r, err := h.svc.JoinWaitlist(c.Request().Context(), actor, req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, appointmentResponse{Appointment: r})
}

func (h *Handler) GetAppointment(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	r, err := h.svc.GetReservation(c.Request().Context(), actor, id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, appointmentResponse{Appointment: r})
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var body statusRequest
	if err := c.Bind(&body); err != nil || body.Status == "" {
		return apiError(http.StatusBadRequest, CodeInvalidStatus, "status is required")
	}
	r, err := h.svc.UpdateStatus(c.Request().Context(), actor, id, body.Status)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, appointmentResponse{Appointment: r})
}

func (h *Handler) Cancel(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	r, err := h.svc.Cancel(c.Request().Context(), actor, id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, appointmentResponse{Appointment: r})
}

// -- provider calendar --

func (h *Handler) ListReservations(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	providerID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	from, err := time.Parse(time.RFC3339, c.QueryParam("from"))
	if err != nil {
		return apiError(http.StatusBadRequest, CodeInvalidRange, "from must be an RFC 3339 instant")
	}
	to, err := time.Parse(time.RFC3339, c.QueryParam("to"))
	if err != nil {
		return apiError(http.StatusBadRequest, CodeInvalidRange, "to must be an RFC 3339 instant")
	}
	items, err := h.svc.ListReservations(c.Request().Context(), actor, providerID, from, to)
	if err != nil {
		return h.fail(c, err)
	}
	pg := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Slice(items, pg), len(items), pg))
}

func (h *Handler) CreateBlock(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	providerID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req BlockRequest
	if err := c.Bind(&req); err != nil {
		return apiError(http.StatusBadRequest, CodeInvalidRequest, "malformed block request")
	}
	r, err := h.svc.CreateBlock(c.Request().Context(), actor, providerID, req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) CancelBlock(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	r, err := h.svc.CancelBlock(c.Request().Context(), actor, id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

// -- availability profile --

func (h *Handler) GetProfile(c echo.Context) error {
	if _, err := actorFrom(c); err != nil {
		return err
	}
	providerID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	p, err := h.svc.GetProfile(c.Request().Context(), providerID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ReplaceProfile(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	providerID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var p Profile
	if err := c.Bind(&p); err != nil {
		return apiError(http.StatusBadRequest, CodeInvalidProfile, "malformed profile")
	}
	out, err := h.svc.ReplaceProfile(c.Request().Context(), actor, providerID, p)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) PatchProfile(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	providerID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var patch ProfilePatch
	if err := c.Bind(&patch); err != nil {
		return apiError(http.StatusBadRequest, CodeInvalidProfile, "malformed profile patch")
	}
	out, err := h.svc.PatchProfile(c.Request().Context(), actor, providerID, patch)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) ProvisionProfile(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	providerID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	p, created, err := h.svc.ProvisionProfile(c.Request().Context(), actor, providerID)
	if err != nil {
		return h.fail(c, err)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, p)
}
