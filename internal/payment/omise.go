package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"manito/internal/models"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
	"github.com/rs/zerolog"
)

// Charge statuses reported by Omise.
const (
	chargeSuccessful = "successful"
	chargeFailed     = "failed"
	chargeExpired    = "expired"
	chargeReversed   = "reversed"
)

// provider is the slice of the Omise API the gateway uses.
type provider interface {
	CreateCharge(req *operations.CreateCharge) (*omise.Charge, error)
	RetrieveCharge(id string) (*omise.Charge, error)
	RetrieveEvent(id string) (*omise.Event, error)
}

type omiseAPI struct {
	client *omise.Client
}

func (a omiseAPI) CreateCharge(req *operations.CreateCharge) (*omise.Charge, error) {
	ch := &omise.Charge{}
	if err := a.client.Do(ch, req); err != nil {
		return nil, err
	}
	return ch, nil
}

func (a omiseAPI) RetrieveCharge(id string) (*omise.Charge, error) {
	ch := &omise.Charge{}
	if err := a.client.Do(ch, &operations.RetrieveCharge{ChargeID: id}); err != nil {
		return nil, err
	}
	return ch, nil
}

func (a omiseAPI) RetrieveEvent(id string) (*omise.Event, error) {
	ev := &omise.Event{}
	if err := a.client.Do(ev, &operations.RetrieveEvent{EventID: id}); err != nil {
		return nil, err
	}
	return ev, nil
}

const userAgent = "manito"

func NewOmiseClient(publicKey, secretKey string) (*omise.Client, error) {
	c, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, err
	}
	c.WithUserAgent(userAgent)
	return c, nil
}

// OmiseGateway authorizes booking totals as uncaptured Omise charges. The
// charge id is the authorization id; AuthorizeURI, when present, is handed to
// the client to finish 3-D Secure.
type OmiseGateway struct {
	api       provider
	returnURI string
	logger    *zerolog.Logger
}

func NewOmiseGateway(client *omise.Client, returnURI string, logger *zerolog.Logger) *OmiseGateway {
	return newGateway(omiseAPI{client: client}, returnURI, logger)
}

func newGateway(api provider, returnURI string, logger *zerolog.Logger) *OmiseGateway {
	return &OmiseGateway{api: api, returnURI: returnURI, logger: logger}
}

func (g *OmiseGateway) CreateAuthorization(ctx context.Context, req *models.AuthorizationRequest) (*models.PaymentAuthorization, error) {
	if req.AmountCents <= 0 {
		return nil, &Error{Code: "invalid_amount", Message: fmt.Sprintf("amount %d must be positive", req.AmountCents)}
	}
	if strings.TrimSpace(req.PaymentToken) == "" {
		return nil, &Error{Code: "invalid_card", Message: "card token is required"}
	}

	metadata := make(map[string]interface{}, len(req.Metadata))
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	op := &operations.CreateCharge{
		Amount:      req.AmountCents,
		Currency:    strings.ToLower(req.Currency),
		Card:        req.PaymentToken,
		Description: req.Description,
		DontCapture: true,
		ReturnURI:   g.returnURI,
		Metadata:    metadata,
	}

	ch, err := withContext(ctx, func() (*omise.Charge, error) { return g.api.CreateCharge(op) })
	if err != nil {
		return nil, classify(err)
	}

	switch string(ch.Status) {
	case chargeFailed, chargeExpired, chargeReversed:
		return nil, &Error{Code: failureCode(ch), Message: failureMessage(ch)}
	}

	g.logger.Info().
		Str("charge_id", ch.ID).
		Str("status", string(ch.Status)).
		Bool("authorized", ch.Authorized).
		Str("booking_id", req.Metadata[models.MetaBookingID]).
		Msg("Omise charge created")
	return toAuthorization(ch), nil
}

func (g *OmiseGateway) GetAuthorization(ctx context.Context, authorizationID string) (*models.PaymentAuthorization, error) {
	ch, err := withContext(ctx, func() (*omise.Charge, error) { return g.api.RetrieveCharge(authorizationID) })
	if err != nil {
		return nil, classify(err)
	}
	return toAuthorization(ch), nil
}

// VerifyOutcome fetches the event from Omise and maps charge events to a
// payment outcome. Events that are not about a finished charge yield nil.
func (g *OmiseGateway) VerifyOutcome(ctx context.Context, eventID string) (*models.PaymentOutcome, error) {
	ev, err := withContext(ctx, func() (*omise.Event, error) { return g.api.RetrieveEvent(eventID) })
	if err != nil {
		return nil, classify(err)
	}
	if !strings.HasPrefix(ev.Key, "charge.") {
		g.logger.Debug().Str("event_id", ev.ID).Str("key", ev.Key).Msg("Ignoring non-charge event")
		return nil, nil
	}

	ch, err := decodeCharge(ev.Data)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", ev.ID, err)
	}

	outcome := &models.PaymentOutcome{
		EventID:         ev.ID,
		AuthorizationID: ch.ID,
	}
	if id, ok := ch.Metadata[models.MetaBookingID].(string); ok {
		outcome.BookingID = id
	}

	switch {
	case string(ch.Status) == chargeSuccessful || ch.Authorized:
		outcome.Succeeded = true
	case string(ch.Status) == chargeFailed || string(ch.Status) == chargeExpired || string(ch.Status) == chargeReversed:
		outcome.Reason = failureCode(ch)
	default:
		g.logger.Debug().Str("event_id", ev.ID).Str("charge_id", ch.ID).Msg("Charge still pending")
		return nil, nil
	}
	return outcome, nil
}

func decodeCharge(data interface{}) (*omise.Charge, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	var ch omise.Charge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return nil, fmt.Errorf("decode charge: %w", err)
	}
	if ch.ID == "" {
		return nil, errors.New("event carries no charge id")
	}
	return &ch, nil
}

func toAuthorization(ch *omise.Charge) *models.PaymentAuthorization {
	return &models.PaymentAuthorization{
		AuthorizationID: ch.ID,
		ClientSecret:    ch.AuthorizeURI,
		AmountCents:     ch.Amount,
		Currency:        ch.Currency,
		Status:          string(ch.Status),
	}
}

func failureCode(ch *omise.Charge) string {
	if ch.FailureCode != nil && *ch.FailureCode != "" {
		return *ch.FailureCode
	}
	return string(ch.Status)
}

func failureMessage(ch *omise.Charge) string {
	if ch.FailureMessage != nil {
		return *ch.FailureMessage
	}
	return "charge " + string(ch.Status)
}

// withContext runs a blocking SDK call and gives up when ctx is done. The
// call itself keeps running in the background until the SDK returns.
func withContext[T any](ctx context.Context, call func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := call()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// classify wraps SDK errors so callers can ask whether a retry makes sense.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	var oe *omise.Error
	if errors.As(err, &oe) {
		return &Error{
			StatusCode: oe.StatusCode,
			Code:       oe.Code,
			Message:    oe.Message,
			retryable:  oe.StatusCode >= http.StatusInternalServerError || oe.StatusCode == http.StatusTooManyRequests,
			err:        err,
		}
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return &Error{Code: "network_error", Message: ne.Error(), retryable: true, err: err}
	}
	return &Error{Code: "provider_error", Message: err.Error(), err: err}
}
