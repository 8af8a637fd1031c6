package transactions

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carbon-scribe/marketplace/marketplace-backend/internal/apperr"
	"carbon-scribe/marketplace/marketplace-backend/internal/auth"
	"carbon-scribe/marketplace/marketplace-backend/internal/inventory"
	"carbon-scribe/marketplace/marketplace-backend/internal/metrics"
	"carbon-scribe/marketplace/marketplace-backend/internal/notifications"
	"carbon-scribe/marketplace/marketplace-backend/internal/pricing"
)

// Ledger is the slice of the credit inventory the order flow depends on
type Ledger interface {
	GetProject(ctx context.Context, id uuid.UUID) (*inventory.Project, error)
	Reserve(ctx context.Context, projectID uuid.UUID, amount int64) (uuid.UUID, error)
	ReleaseReservation(ctx context.Context, token uuid.UUID, reason string) (int64, error)
}

// Publisher receives events after they commit
type Publisher interface {
	Publish(ctx context.Context, event notifications.Event)
}

// Service runs the order state machine
type Service struct {
	repo       Repository
	ledger     Ledger
	pricing    *pricing.Engine
	publisher  Publisher
	metrics    *metrics.Metrics
	logger     *zap.Logger
	maxRetries int
}

// NewService creates the order service. maxRetries bounds optimistic retries per transition.
func NewService(
	repo Repository,
	ledger Ledger,
	engine *pricing.Engine,
	publisher Publisher,
	m *metrics.Metrics,
	logger *zap.Logger,
	maxRetries int,
) *Service {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Service{
		repo:       repo,
		ledger:     ledger,
		pricing:    engine,
		publisher:  publisher,
		metrics:    m,
		logger:     logger,
		maxRetries: maxRetries,
	}
}

// CreateOrder validates, prices, reserves and persists a pending order.
// If persisting fails after the reservation, the reservation is released.
func (s *Service) CreateOrder(ctx context.Context, actor auth.Actor, req CreateOrderRequest) (*Transaction, error) {
	if !actor.Is(auth.RoleBuyer) {
		return nil, &apperr.ForbiddenError{Reason: "only buyers can place orders"}
	}
	if !actor.KYCVerified {
		return nil, &apperr.ForbiddenError{Reason: "KYC verification is required to place orders"}
	}

	currency, err := pricing.ParseCurrency(req.Currency, pricing.OrderCurrencies)
	if err != nil {
		return nil, err
	}
	method := pricing.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod)))
	if !method.Valid() {
		return nil, apperr.Validation("paymentMethod", "unknown payment method %q", req.PaymentMethod)
	}
	if len(req.LineItems) == 0 {
		return nil, apperr.Validation("lineItems", "at least one line item is required")
	}

	project, err := s.ledger.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if project.SellerID == actor.UserID {
		return nil, &apperr.ForbiddenError{Reason: "sellers cannot buy their own credits"}
	}
	unitPrice, err := project.PriceIn(currency)
	if err != nil {
		return nil, err
	}

	var requested int64
	items := make([]LineItem, 0, len(req.LineItems))
	priced := make([]pricing.LineItem, 0, len(req.LineItems))
	for _, item := range req.LineItems {
		if item.CreditID != project.ID.String() {
			return nil, apperr.Validation("lineItems.creditId", "credit %s does not belong to project %s", item.CreditID, project.ID)
		}
		if item.Amount <= 0 {
			return nil, apperr.Validation("lineItems.amount", "must be positive, got %d", item.Amount)
		}
		requested += item.Amount
		items = append(items, LineItem{
			CreditID:  item.CreditID,
			Amount:    item.Amount,
			UnitPrice: unitPrice,
			Currency:  string(currency),
		})
		priced = append(priced, pricing.LineItem{Amount: item.Amount, UnitPrice: unitPrice})
	}

	// Early rejection only; the reservation below is what actually decides.
	if requested > project.AvailableCredits {
		s.metrics.Reservation(requested, false)
		return nil, &apperr.InsufficientCreditsError{
			ProjectID: project.ID.String(),
			Requested: requested,
			Available: project.AvailableCredits,
		}
	}

	quote, err := s.pricing.PriceOrder(priced, currency, method)
	if err != nil {
		return nil, err
	}

	token, err := s.ledger.Reserve(ctx, project.ID, requested)
	if err != nil {
		return nil, err
	}

	txn := &Transaction{
		BuyerID:       actor.UserID,
		SellerID:      project.SellerID,
		ProjectID:     project.ID,
		ReservationID: token,
		LineItems:     items,
		Currency:      string(currency),
		PaymentMethod: string(method),
		Subtotal:      quote.Subtotal,
		Fee:           quote.Fee,
		Discount:      quote.Discount,
		Total:         quote.Total,
		Status:        StatusPending,
		Version:       1,
	}
	if err := s.repo.Create(ctx, txn, actor); err != nil {
		if _, releaseErr := s.ledger.ReleaseReservation(ctx, token, inventory.ReasonCompensation); releaseErr != nil {
			s.logger.Error("Compensating release failed",
				zap.String("reservation_id", token.String()),
				zap.Error(releaseErr),
			)
		}
		return nil, err
	}

	s.metrics.OrderCreated(txn.Currency)
	s.logger.Info("Order created",
		zap.String("transaction_id", txn.ID.String()),
		zap.String("project_id", txn.ProjectID.String()),
		zap.String("buyer_id", txn.BuyerID),
		zap.Int64("credits", requested),
		zap.String("total", txn.Total.StringFixed(2)),
		zap.String("currency", txn.Currency),
	)
	s.publish(ctx, notifications.EventOrderCreated, txn, nil)
	return txn, nil
}

// Get returns a transaction visible to actor
func (s *Service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Transaction, error) {
	txn, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, txn) {
		return nil, &apperr.ForbiddenError{Reason: "not a party to this transaction"}
	}
	return txn, nil
}

// Transition moves an order to newStatus. Illegal pairs fail with
// InvalidTransitionError and leave history untouched.
func (s *Service) Transition(ctx context.Context, actor auth.Actor, id uuid.UUID, newStatus, note string) (*Transaction, error) {
	return s.transition(ctx, actor, id, newStatus, note, transitionOptions{})
}

// Complete finalizes an order. Completing a completed order returns it unchanged.
func (s *Service) Complete(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Transaction, error) {
	return s.complete(ctx, actor, id, "Transaction completed", transitionOptions{})
}

// PaymentConfirmed handles the gateway callback for a settled payment
func (s *Service) PaymentConfirmed(ctx context.Context, id uuid.UUID, method, reference string) (*Transaction, error) {
	if reference == "" {
		return nil, apperr.Validation("reference", "payment reference is required")
	}
	pm := pricing.PaymentMethod(strings.ToLower(strings.TrimSpace(method)))
	if !pm.Valid() {
		return nil, apperr.Validation("paymentMethod", "unknown payment method %q", method)
	}
	opts := transitionOptions{paymentMethod: string(pm), paymentReference: reference}
	return s.complete(ctx, auth.System, id, "Payment confirmed: "+reference, opts)
}

func (s *Service) complete(ctx context.Context, actor auth.Actor, id uuid.UUID, note string, opts transitionOptions) (*Transaction, error) {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		txn, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := authorizeTransition(actor, txn, StatusCompleted); err != nil {
			return nil, err
		}

		switch txn.Status {
		case StatusCompleted:
			return txn, nil
		case StatusDisputed:
			// a payment callback never settles an open dispute
			return nil, invalidTransition(txn.Status, StatusCompleted, nil)
		case StatusPending:
			if _, err := s.transition(ctx, actor, id, StatusProcessing, "Payment processing", opts); err != nil {
				if isInvalidTransition(err) {
					continue
				}
				return nil, err
			}
		}

		updated, err := s.transition(ctx, actor, id, StatusCompleted, note, opts)
		if err != nil {
			if isInvalidTransition(err) {
				if current, getErr := s.repo.Get(ctx, id); getErr == nil && current.Status == StatusCompleted {
					return current, nil
				}
			}
			return nil, err
		}
		return updated, nil
	}
	return nil, &apperr.ConcurrentModificationError{Entity: "transaction", ID: id.String()}
}

// Dispute raises a dispute on a completed order
func (s *Service) Dispute(ctx context.Context, actor auth.Actor, id uuid.UUID, reason string) (*Transaction, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.Validation("reason", "a dispute reason is required")
	}
	txn, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.Status != StatusCompleted {
		return nil, invalidTransition(txn.Status, StatusDisputed, AllowedTransitions(txn.Status))
	}
	return s.transition(ctx, actor, id, StatusDisputed, reason, transitionOptions{})
}

// Resolve closes an open dispute. Dismissed returns the order to completed;
// upheld refunds it and releases its credits.
func (s *Service) Resolve(ctx context.Context, actor auth.Actor, id uuid.UUID, resolution, note string) (*Transaction, error) {
	var target string
	switch resolution {
	case ResolutionDismissed:
		target = StatusCompleted
	case ResolutionUpheld:
		target = StatusRefunded
	default:
		return nil, apperr.Validation("resolution", "must be %q or %q", ResolutionDismissed, ResolutionUpheld)
	}
	if note == "" {
		note = "Dispute " + resolution
	}
	return s.transition(ctx, actor, id, target, note,
		transitionOptions{requireFrom: StatusDisputed, resolution: resolution})
}

// Expire fails a pending order whose checkout window lapsed
func (s *Service) Expire(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return s.transition(ctx, auth.System, id, StatusFailed, "Checkout window expired",
		transitionOptions{releaseReason: inventory.ReasonExpired, requireFrom: StatusPending})
}

type transitionOptions struct {
	paymentMethod    string
	paymentReference string
	releaseReason    string
	requireFrom      string
	resolution       string
}

func (s *Service) transition(ctx context.Context, actor auth.Actor, id uuid.UUID, target, note string, opts transitionOptions) (*Transaction, error) {
	for attempt := 1; ; attempt++ {
		txn, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := authorizeTransition(actor, txn, target); err != nil {
			return nil, err
		}
		allowed := AllowedTransitions(txn.Status)
		legal := CanTransition(txn.Status, target)
		if txn.Status == StatusDisputed && opts.resolution == "" {
			// only Resolve leaves disputed
			allowed, legal = nil, false
		}
		if !legal || (opts.requireFrom != "" && txn.Status != opts.requireFrom) {
			return nil, invalidTransition(txn.Status, target, allowed)
		}

		change := StatusChange{
			TransactionID:    txn.ID,
			From:             txn.Status,
			To:               target,
			ExpectedVersion:  txn.Version,
			Note:             note,
			Actor:            actor,
			PaymentMethod:    opts.paymentMethod,
			PaymentReference: opts.paymentReference,
		}
		if target == StatusDisputed {
			change.RaiseDispute = true
			if change.Note == "" {
				change.Note = "Dispute raised"
			}
		}
		if opts.resolution != "" {
			change.Resolution = opts.resolution
		}
		if change.Note == "" {
			change.Note = "Status changed to " + target
		}

		updated, err := s.repo.ApplyStatusChange(ctx, change)
		if errors.Is(err, errVersionConflict) {
			s.metrics.TransitionConflict()
			s.logger.Debug("Transition lost optimistic race",
				zap.String("transaction_id", id.String()),
				zap.String("target", target),
				zap.Int("attempt", attempt),
			)
			if attempt >= s.maxRetries {
				return nil, &apperr.ConcurrentModificationError{Entity: "transaction", ID: id.String()}
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		s.afterTransition(ctx, txn.Status, updated, opts)
		return updated, nil
	}
}

// afterTransition runs post-commit effects. Only the writer whose update
// committed gets here, so the release runs once per transition.
func (s *Service) afterTransition(ctx context.Context, from string, txn *Transaction, opts transitionOptions) {
	s.metrics.OrderTransition(from, txn.Status)
	s.logger.Info("Order status changed",
		zap.String("transaction_id", txn.ID.String()),
		zap.String("from", from),
		zap.String("to", txn.Status),
		zap.Int64("version", txn.Version),
	)

	if releasesCredits(txn.Status) {
		reason := opts.releaseReason
		if reason == "" {
			reason = txn.Status
		}
		if _, err := s.ledger.ReleaseReservation(ctx, txn.ReservationID, reason); err != nil {
			// the sweeper reconciles releasable orders whose reservation is still held
			s.logger.Error("Failed to release reservation",
				zap.String("transaction_id", txn.ID.String()),
				zap.String("reservation_id", txn.ReservationID.String()),
				zap.Error(err),
			)
		}
	}

	eventType := notifications.EventOrderStatusChanged
	switch {
	case txn.Status == StatusDisputed:
		eventType = notifications.EventOrderDisputed
	case from == StatusDisputed:
		eventType = notifications.EventOrderDisputeResolved
	}
	s.publish(ctx, eventType, txn, map[string]any{"from": from})
}

func (s *Service) publish(ctx context.Context, eventType string, txn *Transaction, data map[string]any) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, notifications.Event{
		Type:       eventType,
		EntityType: "transaction",
		EntityID:   txn.ID.String(),
		ProjectID:  txn.ProjectID.String(),
		Status:     txn.Status,
		Recipients: txn.Parties(),
		Data:       data,
	})
}

func canView(actor auth.Actor, txn *Transaction) bool {
	return actor.IsPrivileged() || actor.UserID == txn.BuyerID || actor.UserID == txn.SellerID
}

// authorizeTransition gates who may move an order into target
func authorizeTransition(actor auth.Actor, txn *Transaction, target string) error {
	if actor.IsPrivileged() {
		return nil
	}
	isBuyer := actor.UserID == txn.BuyerID
	isSeller := actor.UserID == txn.SellerID
	if !isBuyer && !isSeller {
		return &apperr.ForbiddenError{Reason: "not a party to this transaction"}
	}
	if txn.Status == StatusDisputed {
		return &apperr.ForbiddenError{Reason: "only an admin can resolve a dispute"}
	}
	switch target {
	case StatusDisputed:
		if !isBuyer {
			return &apperr.ForbiddenError{Reason: "only the buyer can raise a dispute"}
		}
	case StatusRefunded:
		if !isSeller {
			return &apperr.ForbiddenError{Reason: "only the seller or an admin can refund"}
		}
	case StatusProcessing, StatusCompleted:
		if !isSeller {
			return &apperr.ForbiddenError{Reason: "only the seller, an admin or the payment gateway can settle an order"}
		}
	}
	return nil
}

func invalidTransition(current, target string, allowed []string) error {
	if allowed == nil {
		allowed = []string{}
	}
	return &apperr.InvalidTransitionError{
		Entity:  "transaction",
		Current: current,
		Target:  target,
		Allowed: allowed,
	}
}

func isInvalidTransition(err error) bool {
	var target *apperr.InvalidTransitionError
	return errors.As(err, &target)
}
