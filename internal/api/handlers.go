package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"manito/internal/geo"
	"manito/internal/models"

	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

type createBookingRequest struct {
	ServiceID           string    `json:"service_id"`
	ProID               string    `json:"pro_id"`
	StartAt             time.Time `json:"start_at"`
	EndAt               time.Time `json:"end_at"`
	AddressID           *string   `json:"address_id"`
	Notes               string    `json:"notes"`
	RequestedPriceCents *int64    `json:"requested_price_cents"`
	PaymentToken        string    `json:"payment_token"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid JSON body")
		return false
	}
	return true
}

// caller is only called behind IdentityVerifier.Middleware.
func caller(r *http.Request) models.Identity {
	id, _ := IdentityFromContext(r.Context())
	return id
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	id := caller(r)
	if id.Role != models.RoleClient {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "only clients can book services")
		return
	}

	var body createBookingRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	result, err := s.svcs.Bookings.CreateBooking(r.Context(), models.CreateBookingRequest{
		ClientID:            id.UserID,
		ServiceID:           strings.TrimSpace(body.ServiceID),
		ProID:               strings.TrimSpace(body.ProID),
		StartAt:             body.StartAt,
		EndAt:               body.EndAt,
		AddressID:           body.AddressID,
		Notes:               body.Notes,
		RequestedPriceCents: body.RequestedPriceCents,
		PaymentToken:        body.PaymentToken,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	details, err := s.svcs.Bookings.GetBooking(r.Context(), r.PathValue("id"), caller(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *HTTPServer) handlePricingSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.svcs.Bookings.GetBookingPricingSummary(r.Context(), r.PathValue("id"), caller(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *HTTPServer) handleEnsureAuthorization(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PaymentToken string `json:"payment_token"`
	}
	if r.ContentLength != 0 && !decodeJSON(w, r, &body) {
		return
	}

	auth, err := s.svcs.Bookings.EnsurePaymentAuthorization(r.Context(), r.PathValue("id"), caller(r), body.PaymentToken)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auth)
}

func (s *HTTPServer) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 && !decodeJSON(w, r, &body) {
		return
	}

	b, err := s.svcs.Bookings.CancelBooking(r.Context(), r.PathValue("id"), caller(r), body.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleCompleteBooking(w http.ResponseWriter, r *http.Request) {
	b, err := s.svcs.Bookings.CompleteBooking(r.Context(), r.PathValue("id"), caller(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleSearchServices(w http.ResponseWriter, r *http.Request) {
	filter, err := parseSearchFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}

	listings, err := s.svcs.Catalog.SearchServices(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if listings == nil {
		listings = []models.ServiceListing{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": listings})
}

type queryError struct {
	param string
}

func (e *queryError) Error() string {
	return "invalid query parameter " + e.param
}

func parseSearchFilter(r *http.Request) (models.SearchFilter, error) {
	q := r.URL.Query()
	f := models.SearchFilter{
		Query:      strings.TrimSpace(q.Get("q")),
		CategoryID: strings.TrimSpace(q.Get("category_id")),
	}

	intParam := func(name string) (*int64, error) {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			return nil, nil
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, &queryError{param: name}
		}
		return &v, nil
	}
	floatParam := func(name string) (*float64, error) {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			return nil, nil
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &queryError{param: name}
		}
		return &v, nil
	}

	var err error
	if f.MinPriceCents, err = intParam("min_price_cents"); err != nil {
		return f, err
	}
	if f.MaxPriceCents, err = intParam("max_price_cents"); err != nil {
		return f, err
	}
	if f.MinRating, err = floatParam("min_rating"); err != nil {
		return f, err
	}

	lat, err := floatParam("lat")
	if err != nil {
		return f, err
	}
	lng, err := floatParam("lng")
	if err != nil {
		return f, err
	}
	if (lat == nil) != (lng == nil) {
		return f, &queryError{param: "lat/lng"}
	}
	if lat != nil {
		f.Near = &geo.Point{Lat: *lat, Lng: *lng}
	}
	radius, err := floatParam("radius_km")
	if err != nil {
		return f, err
	}
	if radius != nil {
		f.RadiusKm = *radius
	}

	limit, err := intParam("limit")
	if err != nil {
		return f, err
	}
	if limit != nil {
		f.Limit = int(*limit)
	}
	return f, nil
}

func (s *HTTPServer) handleGetService(w http.ResponseWriter, r *http.Request) {
	svc, err := s.svcs.Catalog.GetService(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (s *HTTPServer) handleGetPro(w http.ResponseWriter, r *http.Request) {
	pro, err := s.svcs.Catalog.GetPro(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pro)
}

// handleOmiseWebhook only trusts the event id; the event itself is fetched
// back from the provider before anything changes.
func (s *HTTPServer) handleOmiseWebhook(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid JSON body")
		return
	}

	b, err := s.svcs.Webhooks.HandleProviderEvent(r.Context(), body.ID)
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("event_id", body.ID).Str("key", body.Key).Msg("Webhook event rejected")
		writeServiceError(w, r, err)
		return
	}

	resp := map[string]any{"received": true}
	if b != nil {
		resp["booking_id"] = b.ID
		resp["status"] = b.Status
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handlePaymentOutcome(w http.ResponseWriter, r *http.Request) {
	var outcome models.PaymentOutcome
	if !decodeJSON(w, r, &outcome) {
		return
	}
	outcome.AuthorizationID = strings.TrimSpace(outcome.AuthorizationID)

	b, err := s.svcs.Bookings.HandlePaymentOutcome(r.Context(), outcome)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
