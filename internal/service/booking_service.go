package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"manito/internal/database"
	"manito/internal/domain"
	"manito/internal/events"
	"manito/internal/metrics"
	"manito/internal/models"
	"manito/internal/pricing"

	"github.com/rs/zerolog"
)

const staleBatchSize = 100

type BookingOptions struct {
	Currency             string
	DefaultRate          pricing.Rate
	AuthorizationTimeout time.Duration
	PendingTTL           time.Duration
	CreateRateLimit      int
	CreateRateWindow     time.Duration
}

func (o *BookingOptions) applyDefaults() {
	if o.Currency == "" {
		o.Currency = models.DefaultCurrency
	}
	if o.DefaultRate == 0 {
		o.DefaultRate = pricing.DefaultRate
	}
	if o.AuthorizationTimeout <= 0 {
		o.AuthorizationTimeout = models.DefaultAuthorizationTimeout
	}
	if o.PendingTTL <= 0 {
		o.PendingTTL = models.DefaultPendingTTL
	}
	if o.CreateRateWindow <= 0 {
		o.CreateRateWindow = models.CreateBookingRateWindow
	}
}

type BookingService struct {
	repo     domain.BookingRepository
	catalog  domain.Catalog
	rates    domain.CommissionRates
	payments domain.PaymentGateway
	eventBus domain.EventPublisher
	limiter  domain.IdempotencyStore
	opts     BookingOptions
	now      func() time.Time
	logger   *zerolog.Logger
}

func NewBookingService(
	repo domain.BookingRepository,
	catalog domain.Catalog,
	rates domain.CommissionRates,
	payments domain.PaymentGateway,
	eventBus domain.EventPublisher,
	opts BookingOptions,
	logger *zerolog.Logger,
) *BookingService {
	opts.applyDefaults()
	return &BookingService{
		repo:     repo,
		catalog:  catalog,
		rates:    rates,
		payments: payments,
		eventBus: eventBus,
		opts:     opts,
		now:      time.Now,
		logger:   logger,
	}
}

// SetRateLimiter enables the per-client CreateBooking limit.
func (s *BookingService) SetRateLimiter(limiter domain.IdempotencyStore) {
	s.limiter = limiter
}

// SetClock replaces the time source used for validation and expiry.
func (s *BookingService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *BookingService) CreateBooking(ctx context.Context, req models.CreateBookingRequest) (*models.CreateBookingResult, error) {
	if err := s.validateCreate(req); err != nil {
		return nil, err
	}
	if err := s.checkRateLimit(ctx, req.ClientID); err != nil {
		return nil, err
	}

	pro, err := s.catalog.GetPro(ctx, req.ProID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, notFound(ErrProNotFound, req.ProID)
		}
		return nil, fmt.Errorf("load pro: %w", err)
	}

	svc, err := s.catalog.GetService(ctx, req.ServiceID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, notFound(ErrServiceNotFound, req.ServiceID)
		}
		return nil, fmt.Errorf("load service: %w", err)
	}
	if !svc.Active || svc.ProID != pro.ID {
		return nil, notFound(ErrServiceNotFound, req.ServiceID)
	}

	mismatch := req.RequestedPriceCents != nil && *req.RequestedPriceCents != svc.PriceCents
	if mismatch {
		metrics.IncPriceMismatch()
		s.logger.Warn().
			Str("service_id", svc.ID).
			Str("client_id", req.ClientID).
			Int64("requested_cents", *req.RequestedPriceCents).
			Int64("catalog_cents", svc.PriceCents).
			Msg("Requested price differs from catalog, using catalog price")
	}

	rate, err := s.commissionRate(ctx, svc.CategoryID)
	if err != nil {
		return nil, err
	}
	summary, err := pricing.Compute(svc.PriceCents, rate)
	if err != nil {
		return nil, invalid(ErrInvalidPrice, "price_cents", err.Error())
	}

	booking := &models.Booking{
		ClientID:          req.ClientID,
		ProID:             pro.ID,
		ServiceID:         svc.ID,
		AddressID:         req.AddressID,
		StartAt:           req.StartAt.UTC(),
		EndAt:             req.EndAt.UTC(),
		Status:            models.StatusPending,
		Notes:             strings.TrimSpace(req.Notes),
		PriceCents:        summary.PriceCents,
		CommissionCents:   summary.CommissionCents,
		CommissionRateBps: rate,
		Currency:          s.opts.Currency,
		PriceMismatch:     mismatch,
	}
	if err := s.repo.CreateBookingWithLock(ctx, booking); err != nil {
		if errors.Is(err, database.ErrSlotTaken) {
			return nil, &StateConflictError{Code: ErrSlotUnavailable}
		}
		return nil, fmt.Errorf("create booking: %w", err)
	}
	metrics.IncBookingCreated(svc.CategoryID)

	log := s.logger.With().Str("booking_id", booking.ID).Logger()
	log.Info().
		Str("service_id", svc.ID).
		Str("pro_id", pro.ID).
		Int64("total_cents", summary.TotalChargeCents).
		Msg("Booking created")

	auth, err := s.authorize(ctx, booking, svc.Title, req.PaymentToken)
	if err != nil {
		s.cancelAfterPaymentFailure(ctx, booking, err)
		return nil, err
	}

	if err := s.attachAuthorization(ctx, booking, auth.AuthorizationID); err != nil {
		log.Error().Err(err).Str("authorization_id", auth.AuthorizationID).Msg("Failed to store authorization")
		s.cancelAfterPaymentFailure(ctx, booking, err)
		return nil, err
	}

	s.publish(events.EventBookingCreated, booking, "", req.ClientID)

	return &models.CreateBookingResult{
		BookingID:       booking.ID,
		Status:          booking.Status,
		AuthorizationID: auth.AuthorizationID,
		ClientSecret:    auth.ClientSecret,
		Currency:        booking.Currency,
		Pricing:         summary,
		PriceMismatch:   mismatch,
	}, nil
}

func (s *BookingService) validateCreate(req models.CreateBookingRequest) error {
	switch {
	case strings.TrimSpace(req.ClientID) == "":
		return invalid(ErrInvalidInput, "client_id", "required")
	case strings.TrimSpace(req.ServiceID) == "":
		return invalid(ErrInvalidInput, "service_id", "required")
	case strings.TrimSpace(req.ProID) == "":
		return invalid(ErrInvalidInput, "pro_id", "required")
	}

	if !req.EndAt.After(req.StartAt) {
		return invalid(ErrInvalidTimeRange, "end_at", "")
	}
	if !req.StartAt.After(s.now()) {
		return invalid(ErrPastStartTime, "start_at", "")
	}
	if req.RequestedPriceCents != nil && *req.RequestedPriceCents < 0 {
		return invalid(ErrInvalidPrice, "price_cents", "must not be negative")
	}
	if strings.TrimSpace(req.PaymentToken) == "" {
		return invalid(ErrInvalidInput, "payment_token", "required")
	}
	return nil
}

func (s *BookingService) checkRateLimit(ctx context.Context, clientID string) error {
	if s.limiter == nil || s.opts.CreateRateLimit <= 0 {
		return nil
	}
	allowed, err := s.limiter.CheckRateLimit(ctx, "rate:create_booking:"+clientID, s.opts.CreateRateLimit, s.opts.CreateRateWindow)
	if err != nil {
		s.logger.Warn().Err(err).Str("client_id", clientID).Msg("Rate limit check failed, allowing request")
		return nil
	}
	if !allowed {
		return ErrRateLimited
	}
	return nil
}

// commissionRate falls back to the configured default when the category has
// no rate of its own.
func (s *BookingService) commissionRate(ctx context.Context, categoryID string) (pricing.Rate, error) {
	rate, err := s.rates.GetCommissionRate(ctx, categoryID)
	if errors.Is(err, database.ErrNotFound) {
		return s.opts.DefaultRate, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load commission rate: %w", err)
	}
	if !rate.Valid() {
		return 0, invalid(ErrInvalidRate, "category_id", categoryID)
	}
	return rate, nil
}

func (s *BookingService) authorize(ctx context.Context, b *models.Booking, title, token string) (*models.PaymentAuthorization, error) {
	summary := b.Pricing()
	req := &models.AuthorizationRequest{
		AmountCents:  summary.TotalChargeCents,
		Currency:     b.Currency,
		Description:  "Booking: " + title,
		PaymentToken: token,
		Metadata: map[string]string{
			models.MetaBookingID:       b.ID,
			models.MetaServiceID:       b.ServiceID,
			models.MetaProID:           b.ProID,
			models.MetaCommissionCents: strconv.FormatInt(summary.CommissionCents, 10),
			models.MetaProNetCents:     strconv.FormatInt(summary.ProNetCents, 10),
		},
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.AuthorizationTimeout)
	defer cancel()

	start := time.Now()
	auth, err := s.payments.CreateAuthorization(callCtx, req)
	took := time.Since(start)

	if err == nil && (auth == nil || auth.AuthorizationID == "") {
		err = errors.New("provider returned no authorization id")
	}
	if err != nil {
		timedOut := errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded)
		result := "failed"
		if timedOut {
			result = "timeout"
		}
		metrics.ObservePaymentAuthorization(result, took)
		return nil, &PaymentError{
			Code:      ErrPaymentAuthorizationFailed,
			Retryable: timedOut || isRetryable(err),
			Timeout:   timedOut,
			Err:       err,
		}
	}

	metrics.ObservePaymentAuthorization("ok", took)
	return auth, nil
}

func isRetryable(err error) bool {
	var re domain.RetryableError
	return errors.As(err, &re) && re.Retryable()
}

// attachAuthorization stores the authorization id, re-reading the booking once
// if its version moved.
func (s *BookingService) attachAuthorization(ctx context.Context, b *models.Booking, authorizationID string) error {
	for attempt := 0; attempt < 2; attempt++ {
		err := s.repo.SetBookingAuthorization(ctx, b.ID, b.Version, authorizationID)
		if err == nil {
			b.AuthorizationID = &authorizationID
			b.Version++
			b.UpdatedAt = s.now().UTC()
			return nil
		}
		if !errors.Is(err, database.ErrConcurrentModification) {
			return fmt.Errorf("store authorization: %w", err)
		}

		fresh, err := s.repo.GetBooking(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("reload booking: %w", err)
		}
		*b = *fresh
		// A success outcome correlated by booking id can confirm the booking
		// before its authorization id lands; the id is still stored.
		if b.Status != models.StatusPending && b.Status != models.StatusConfirmed {
			return conflict(ErrInvalidStateTransition, b, models.StatusPending)
		}
		if b.HasAuthorization() {
			if *b.AuthorizationID == authorizationID {
				return nil
			}
			return conflict(ErrConcurrentModification, b, models.StatusPending)
		}
	}
	return conflict(ErrConcurrentModification, b, models.StatusPending)
}

// cancelAfterPaymentFailure keeps a booking from sitting in PENDING without a
// way to pay.
func (s *BookingService) cancelAfterPaymentFailure(ctx context.Context, b *models.Booking, cause error) {
	reason := models.ReasonPaymentAuthorizationFailed
	var pe *PaymentError
	if errors.As(cause, &pe) && pe.Timeout {
		reason = models.ReasonPaymentAuthorizationTimeout
	}

	// The caller's context may already be done; the compensation must still run.
	ctx = context.WithoutCancel(ctx)
	_, _, err := s.transition(ctx, b.ID, models.StatusCancelled, reason, models.System, func(cur *models.Booking) (bool, error) {
		return cur.Status == models.StatusCancelled, nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("booking_id", b.ID).Msg("Failed to cancel booking after payment failure")
		return
	}
	s.logger.Warn().Err(cause).Str("booking_id", b.ID).Str("reason", reason).Msg("Booking cancelled after payment failure")
}

// transitionCheck inspects the current row before a status change. Returning
// true means the change already happened and should be skipped.
type transitionCheck func(current *models.Booking) (noop bool, err error)

// transition applies a compare-and-swap status change. A lost race re-reads
// the booking and is evaluated once more before surfacing a conflict.
func (s *BookingService) transition(
	ctx context.Context,
	id string,
	to models.BookingStatus,
	reason string,
	actor models.Identity,
	check transitionCheck,
) (*models.Booking, bool, error) {
	var b *models.Booking
	for attempt := 0; attempt < 2; attempt++ {
		var err error
		b, err = s.load(ctx, id)
		if err != nil {
			return nil, false, err
		}

		if check != nil {
			noop, err := check(b)
			if err != nil {
				return nil, false, err
			}
			if noop {
				return b, false, nil
			}
		}
		if !b.Status.CanTransitionTo(to) {
			return nil, false, conflict(ErrInvalidStateTransition, b, to)
		}

		err = s.repo.UpdateBookingStatusWithVersion(ctx, b.ID, b.Version, to, reason)
		if err == nil {
			from := b.Status
			b.Status = to
			b.CancelReason = reason
			b.Version++
			b.UpdatedAt = s.now().UTC()

			metrics.IncTransition(string(from), string(to))
			s.logger.Info().
				Str("booking_id", b.ID).
				Str("from", string(from)).
				Str("to", string(to)).
				Str("reason", reason).
				Str("actor", actor.UserID).
				Msg("Booking status changed")
			if eventType, ok := events.EventForStatus(to); ok {
				s.publish(eventType, b, from, actor.UserID)
			}
			return b, true, nil
		}
		if !errors.Is(err, database.ErrConcurrentModification) {
			return nil, false, fmt.Errorf("update booking status: %w", err)
		}
		metrics.IncTransitionConflict()
	}
	return nil, false, conflict(ErrConcurrentModification, b, to)
}

func (s *BookingService) load(ctx context.Context, id string) (*models.Booking, error) {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, notFound(ErrBookingNotFound, id)
		}
		return nil, fmt.Errorf("load booking: %w", err)
	}
	return b, nil
}

// loadFor returns the booking when caller is one of its participants or an admin.
func (s *BookingService) loadFor(ctx context.Context, id string, caller models.Identity) (*models.Booking, error) {
	b, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && !b.InvolvesUser(caller.UserID) {
		return nil, ErrForbidden
	}
	return b, nil
}

func (s *BookingService) publish(eventType string, b *models.Booking, previous models.BookingStatus, changedBy string) {
	if s.eventBus == nil {
		return
	}
	payload := events.NewBookingEventPayload(b, previous, changedBy, s.now())
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("booking_id", b.ID).Msg("publish event error")
	}
}

func (s *BookingService) GetBooking(ctx context.Context, id string, caller models.Identity) (*models.BookingDetails, error) {
	b, err := s.loadFor(ctx, id, caller)
	if err != nil {
		return nil, err
	}

	details := &models.BookingDetails{
		Booking: b,
		Service: models.ServiceSummary{ID: b.ServiceID},
		Pro:     models.ProSummary{ID: b.ProID},
	}

	svc, err := s.catalog.GetService(ctx, b.ServiceID)
	switch {
	case err == nil:
		details.Service.Title = svc.Title
		details.Service.PriceCents = svc.PriceCents
	case !errors.Is(err, database.ErrNotFound):
		return nil, fmt.Errorf("load service: %w", err)
	}

	pro, err := s.catalog.GetPro(ctx, b.ProID)
	switch {
	case err == nil:
		details.Pro.Name = pro.Name
	case !errors.Is(err, database.ErrNotFound):
		return nil, fmt.Errorf("load pro: %w", err)
	}
	return details, nil
}

// GetBookingPricingSummary reads the pricing frozen on the booking. It has no
// side effects.
func (s *BookingService) GetBookingPricingSummary(ctx context.Context, id string, caller models.Identity) (pricing.Summary, error) {
	b, err := s.loadFor(ctx, id, caller)
	if err != nil {
		return pricing.Summary{}, err
	}
	return b.Pricing(), nil
}

// EnsurePaymentAuthorization returns the booking's authorization, creating
// one when a PENDING booking has none yet.
func (s *BookingService) EnsurePaymentAuthorization(ctx context.Context, id string, caller models.Identity, paymentToken string) (*models.PaymentAuthorization, error) {
	b, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.ClientID != caller.UserID {
		return nil, ErrForbidden
	}
	if b.Status != models.StatusPending {
		return nil, conflict(ErrInvalidStateTransition, b, models.StatusConfirmed)
	}

	if b.HasAuthorization() {
		auth, err := s.payments.GetAuthorization(ctx, *b.AuthorizationID)
		if err != nil {
			return nil, &PaymentError{Code: ErrPaymentAuthorizationFailed, Retryable: isRetryable(err), Err: err}
		}
		return auth, nil
	}

	if strings.TrimSpace(paymentToken) == "" {
		return nil, invalid(ErrInvalidInput, "payment_token", "required")
	}
	title := b.ServiceID
	if svc, err := s.catalog.GetService(ctx, b.ServiceID); err == nil {
		title = svc.Title
	}

	auth, err := s.authorize(ctx, b, title, paymentToken)
	if err != nil {
		return nil, err
	}
	if err := s.attachAuthorization(ctx, b, auth.AuthorizationID); err != nil {
		return nil, err
	}
	return auth, nil
}

func (s *BookingService) CancelBooking(ctx context.Context, id string, caller models.Identity, note string) (*models.Booking, error) {
	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	var reason string
	switch {
	case caller.IsAdmin():
		reason = models.ReasonCancelledByAdmin
	case current.ClientID == caller.UserID:
		reason = models.ReasonCancelledByClient
	case current.ProID == caller.UserID:
		reason = models.ReasonCancelledByPro
	default:
		return nil, ErrForbidden
	}
	if note = strings.TrimSpace(note); note != "" {
		reason += ": " + note
	}

	b, _, err := s.transition(ctx, id, models.StatusCancelled, reason, caller, nil)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *BookingService) CompleteBooking(ctx context.Context, id string, caller models.Identity) (*models.Booking, error) {
	b, _, err := s.transition(ctx, id, models.StatusCompleted, "", caller, func(cur *models.Booking) (bool, error) {
		if !caller.IsAdmin() && cur.ProID != caller.UserID {
			return false, ErrForbidden
		}
		if cur.Status == models.StatusConfirmed && s.now().Before(cur.EndAt) {
			return false, conflict(ErrBookingNotEnded, cur, models.StatusCompleted)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// HandlePaymentOutcome applies a provider outcome. Repeating an outcome that
// was already applied is a no-op.
func (s *BookingService) HandlePaymentOutcome(ctx context.Context, outcome models.PaymentOutcome) (*models.Booking, error) {
	if outcome.AuthorizationID == "" {
		return nil, invalid(ErrInvalidInput, "authorization_id", "required")
	}

	b, err := s.bookingForOutcome(ctx, outcome)
	if err != nil {
		return nil, err
	}

	if err := s.repo.RecordPaymentOutcome(ctx, &outcome); err != nil {
		if !errors.Is(err, database.ErrDuplicateOutcome) {
			return nil, fmt.Errorf("record payment outcome: %w", err)
		}
		// A redelivery can follow a transition that failed after the outcome
		// was recorded, so only a settled booking makes it a no-op.
		if b.Status != models.StatusPending {
			s.logger.Debug().Str("event_id", outcome.EventID).Msg("Duplicate payment outcome ignored")
			return b, nil
		}
		s.logger.Info().Str("event_id", outcome.EventID).Str("booking_id", b.ID).Msg("Reapplying recorded payment outcome")
	}

	target, reason := models.StatusConfirmed, ""
	if !outcome.Succeeded {
		target, reason = models.StatusCancelled, models.ReasonPaymentFailed
	}

	updated, changed, err := s.transition(ctx, b.ID, target, reason, models.System, func(cur *models.Booking) (bool, error) {
		if cur.HasAuthorization() && *cur.AuthorizationID != outcome.AuthorizationID {
			return false, invalid(ErrInvalidInput, "authorization_id", "does not match booking")
		}
		return cur.Status == target, nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		s.logger.Info().
			Str("booking_id", updated.ID).
			Str("status", string(updated.Status)).
			Msg("Payment outcome already applied")
	}
	return updated, nil
}

func (s *BookingService) bookingForOutcome(ctx context.Context, outcome models.PaymentOutcome) (*models.Booking, error) {
	b, err := s.repo.GetBookingByAuthorization(ctx, outcome.AuthorizationID)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("load booking by authorization: %w", err)
	}
	// The outcome can race the authorization id being stored; fall back to
	// the booking id carried in provider metadata.
	if outcome.BookingID == "" {
		return nil, notFound(ErrBookingNotFound, outcome.AuthorizationID)
	}
	return s.load(ctx, outcome.BookingID)
}

// ExpireStalePending cancels PENDING bookings that outlived the payment
// window and returns how many were cancelled.
func (s *BookingService) ExpireStalePending(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.opts.PendingTTL)
	stale, err := s.repo.ListStalePending(ctx, cutoff, staleBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale bookings: %w", err)
	}

	var (
		expired int
		errs    []error
	)
	for _, b := range stale {
		_, changed, err := s.transition(ctx, b.ID, models.StatusCancelled, models.ReasonPaymentTimeout, models.System,
			func(cur *models.Booking) (bool, error) {
				return cur.Status != models.StatusPending, nil
			})
		if err != nil {
			errs = append(errs, fmt.Errorf("expire %s: %w", b.ID, err))
			continue
		}
		if changed {
			expired++
			metrics.IncExpired()
		}
	}
	return expired, errors.Join(errs...)
}
