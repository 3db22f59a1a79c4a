// Package service implements the trip expense ledger on top of a
// store.LedgerStore: recording expenses, paid flags, and the balance and
// settlement views derived from them.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/NomadCrew/nomad-crew-ledger/errors"
	"github.com/NomadCrew/nomad-crew-ledger/internal/settlement"
	"github.com/NomadCrew/nomad-crew-ledger/internal/store"
	"github.com/NomadCrew/nomad-crew-ledger/logger"
	"github.com/NomadCrew/nomad-crew-ledger/pkg/valueobjects"
	"github.com/NomadCrew/nomad-crew-ledger/types"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const eventSource = "expense_service"

type settlementMetrics struct {
	plansComputed      prometheus.Counter
	transfersPerPlan   prometheus.Histogram
	inconsistentLedger prometheus.Counter
}

func newSettlementMetrics(reg prometheus.Registerer) *settlementMetrics {
	factory := promauto.With(reg)
	return &settlementMetrics{
		plansComputed: factory.NewCounter(prometheus.CounterOpts{
			Name: "nomadcrew_ledger_settlement_plans_total",
			Help: "Total number of settlement plans computed",
		}),
		transfersPerPlan: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nomadcrew_ledger_settlement_transfers",
			Help:    "Number of transfers in each computed settlement plan",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21, 34},
		}),
		inconsistentLedger: factory.NewCounter(prometheus.CounterOpts{
			Name: "nomadcrew_ledger_inconsistent_ledger_total",
			Help: "Total number of settlement requests rejected because balances did not sum to zero",
		}),
	}
}

// ExpenseService records trip expenses and derives balances and settlement
// plans from them. Nothing derived is cached; every read recomputes from a
// store snapshot.
type ExpenseService struct {
	store     store.LedgerStore
	events    types.EventPublisher
	tolerance valueobjects.Money
	metrics   *settlementMetrics
	log       *zap.SugaredLogger
	newID     func() string
}

// NewExpenseService creates an ExpenseService. events may be nil, in which
// case no change notifications are published.
func NewExpenseService(ledger store.LedgerStore, events types.EventPublisher, tolerance valueobjects.Money, reg prometheus.Registerer) *ExpenseService {
	return &ExpenseService{
		store:     ledger,
		events:    events,
		tolerance: tolerance,
		metrics:   newSettlementMetrics(reg),
		log:       logger.GetLogger(),
		newID:     func() string { return uuid.New().String() },
	}
}

// RecordExpense validates and stores a new expense. Subset expenses get
// their equal shares computed and stored now; all-mode expenses store no
// shares and are split across the roster whenever they are read.
func (s *ExpenseService) RecordExpense(ctx context.Context, tripID, payerID string, amount valueobjects.Money, category, description string, policy types.SplitPolicy) (*types.ExpenseWithSplits, error) {
	tripID = strings.TrimSpace(tripID)
	payerID = strings.TrimSpace(payerID)
	if tripID == "" {
		return nil, apperrors.ValidationFailed("invalid expense", "trip ID is required")
	}
	if payerID == "" {
		return nil, apperrors.ValidationFailed("invalid expense", "payer ID is required")
	}
	if !amount.IsPositive() {
		return nil, apperrors.ValidationFailed("invalid expense", fmt.Sprintf("amount must be positive, got %s", amount))
	}
	if !amount.InRange() {
		return nil, apperrors.ValidationFailed("invalid expense", fmt.Sprintf("amount %s exceeds the maximum of %s", amount, valueobjects.NewMoneyFromMinor(valueobjects.MaxMinorUnits)))
	}
	policy, err := normalizePolicy(policy)
	if err != nil {
		return nil, err
	}

	params := types.CreateExpenseStoreParams{
		ID:          s.newID(),
		TripID:      tripID,
		PayerID:     payerID,
		Amount:      amount,
		Category:    strings.TrimSpace(category),
		Description: strings.TrimSpace(description),
		SplitMode:   policy.Mode,
	}

	var roster []string
	switch policy.Mode {
	case types.SplitModeSubset:
		splits, err := settlement.EqualSplit(params.ID, amount, policy.ParticipantIDs, payerID)
		if err != nil {
			return nil, apperrors.ValidationFailed("invalid expense", err.Error())
		}
		params.Splits = splits
	case types.SplitModeAll:
		r, err := s.store.GetParticipantRoster(ctx, tripID)
		if err != nil {
			return nil, s.storeError(err, "Trip", tripID)
		}
		roster = r
	}

	created, err := s.store.CreateExpense(ctx, params)
	if err != nil {
		return nil, s.storeError(err, "Expense", params.ID)
	}

	stored := types.StoredExpense{Expense: *created}
	for _, split := range params.Splits {
		share := split.ShareAmount
		stored.Splits = append(stored.Splits, types.StoredSplit{ParticipantID: split.ParticipantID, Share: &share})
	}
	result, err := materialize(stored, roster)
	if err != nil {
		return nil, err
	}

	s.log.Infow("Expense recorded",
		"tripID", tripID,
		"expenseID", created.ID,
		"payerID", payerID,
		"amount", amount.String(),
		"splitMode", policy.Mode)

	s.publish(ctx, types.EventTypeExpenseCreated, tripID, payerID, types.ExpenseEventPayload{
		ExpenseID: created.ID,
		PayerID:   payerID,
		Amount:    amount,
	})

	return result, nil
}

// MarkSplitPaid sets the paid flag of one participant's share of an expense
// and returns the expense with its updated splits.
//
// For all-mode expenses the participant must currently be on the roster; the
// flag is kept per (expense, participant), so it survives roster changes.
func (s *ExpenseService) MarkSplitPaid(ctx context.Context, expenseID, participantID string, paid bool) (*types.ExpenseWithSplits, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return nil, apperrors.ValidationFailed("invalid split", "participant ID is required")
	}

	expense, err := s.store.GetExpense(ctx, expenseID)
	if err != nil {
		return nil, s.storeError(err, "Expense", expenseID)
	}

	switch expense.SplitMode {
	case types.SplitModeSubset:
		if err := s.store.SetSplitPaid(ctx, expenseID, participantID, paid); err != nil {
			return nil, s.storeError(err, "Split", participantID)
		}
	case types.SplitModeAll:
		roster, err := s.store.GetParticipantRoster(ctx, expense.TripID)
		if err != nil {
			return nil, s.storeError(err, "Trip", expense.TripID)
		}
		if !contains(roster, participantID) {
			return nil, apperrors.NotFound("Split", participantID)
		}
		if err := s.store.UpsertPaidFlag(ctx, expenseID, participantID, paid); err != nil {
			return nil, s.storeError(err, "Expense", expenseID)
		}
	default:
		return nil, apperrors.InternalServerError(fmt.Sprintf("expense %s has unknown split mode %q", expenseID, expense.SplitMode))
	}

	s.log.Infow("Split paid flag updated",
		"tripID", expense.TripID,
		"expenseID", expenseID,
		"participantID", participantID,
		"paid", paid)

	s.publish(ctx, types.EventTypeExpenseSplitUpdated, expense.TripID, participantID, types.ExpenseEventPayload{
		ExpenseID:     expenseID,
		ParticipantID: participantID,
		Paid:          &paid,
	})

	return s.GetExpense(ctx, expenseID)
}

// GetExpense returns one expense with its materialized splits.
func (s *ExpenseService) GetExpense(ctx context.Context, expenseID string) (*types.ExpenseWithSplits, error) {
	expense, err := s.store.GetExpense(ctx, expenseID)
	if err != nil {
		return nil, s.storeError(err, "Expense", expenseID)
	}

	var roster []string
	if expense.SplitMode == types.SplitModeAll {
		roster, err = s.store.GetParticipantRoster(ctx, expense.TripID)
		if err != nil {
			return nil, s.storeError(err, "Trip", expense.TripID)
		}
	}
	return materialize(*expense, roster)
}

// ListExpenses returns every expense of the trip in creation order with its
// splits materialized against the current roster.
func (s *ExpenseService) ListExpenses(ctx context.Context, tripID string) ([]types.ExpenseWithSplits, error) {
	snapshot, err := s.store.Snapshot(ctx, tripID)
	if err != nil {
		return nil, s.storeError(err, "Trip", tripID)
	}
	return materializeAll(snapshot)
}

// DeleteExpense removes an expense and its splits.
func (s *ExpenseService) DeleteExpense(ctx context.Context, expenseID string) error {
	expense, err := s.store.GetExpense(ctx, expenseID)
	if err != nil {
		return s.storeError(err, "Expense", expenseID)
	}
	if err := s.store.DeleteExpense(ctx, expenseID); err != nil {
		return s.storeError(err, "Expense", expenseID)
	}

	s.log.Infow("Expense deleted", "tripID", expense.TripID, "expenseID", expenseID)

	s.publish(ctx, types.EventTypeExpenseDeleted, expense.TripID, "", types.ExpenseEventPayload{
		ExpenseID: expenseID,
		PayerID:   expense.PayerID,
		Amount:    expense.Amount,
	})
	return nil
}

// GetBalances computes the trip's balance sheet.
func (s *ExpenseService) GetBalances(ctx context.Context, tripID string) (*types.BalanceSheet, error) {
	snapshot, err := s.store.Snapshot(ctx, tripID)
	if err != nil {
		return nil, s.storeError(err, "Trip", tripID)
	}
	expenses, err := materializeAll(snapshot)
	if err != nil {
		return nil, err
	}
	sheet := settlement.AggregateBalances(tripID, expenses, snapshot.Roster)
	return &sheet, nil
}

// GetSettlementPlan returns the transfers that clear what is still
// outstanding on the trip. A trip whose balances do not sum to zero within
// the configured tolerance yields an InconsistentLedger error.
func (s *ExpenseService) GetSettlementPlan(ctx context.Context, tripID string) (*types.SettlementPlan, error) {
	sheet, err := s.GetBalances(ctx, tripID)
	if err != nil {
		return nil, err
	}

	transfers, err := settlement.PlanSettlementsWithTolerance(sheet.Outstanding(), s.tolerance)
	if err != nil {
		var imbalance *settlement.ImbalanceError
		if errors.As(err, &imbalance) {
			s.metrics.inconsistentLedger.Inc()
			s.log.Errorw("Ledger balances do not sum to zero",
				"tripID", tripID,
				"residualMinor", imbalance.Residual.Minor(),
				"tolerance", s.tolerance.Minor())
			return nil, apperrors.InconsistentLedger(tripID, imbalance.Residual.Minor())
		}
		return nil, apperrors.Wrap(err, apperrors.ServerError, "Failed to plan settlements")
	}

	s.metrics.plansComputed.Inc()
	s.metrics.transfersPerPlan.Observe(float64(len(transfers)))

	if transfers == nil {
		transfers = []types.Settlement{}
	}
	return &types.SettlementPlan{TripID: tripID, Settlements: transfers}, nil
}

// normalizePolicy validates policy and returns it with trimmed participant IDs.
func normalizePolicy(policy types.SplitPolicy) (types.SplitPolicy, error) {
	switch policy.Mode {
	case types.SplitModeAll:
		if len(policy.ParticipantIDs) > 0 {
			return policy, apperrors.ValidationFailed("invalid split policy", "participantIds must be empty when mode is \"all\"")
		}
		return policy, nil
	case types.SplitModeSubset:
		if len(policy.ParticipantIDs) == 0 {
			return policy, apperrors.ValidationFailed("invalid split policy", "subset split requires at least one participant")
		}
		ids := make([]string, 0, len(policy.ParticipantIDs))
		seen := make(map[string]struct{}, len(policy.ParticipantIDs))
		for _, raw := range policy.ParticipantIDs {
			id := strings.TrimSpace(raw)
			if id == "" {
				return policy, apperrors.ValidationFailed("invalid split policy", "participant IDs must not be empty")
			}
			if _, dup := seen[id]; dup {
				return policy, apperrors.ValidationFailed("invalid split policy", fmt.Sprintf("participant %s is listed more than once", id))
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		return types.SplitPolicy{Mode: policy.Mode, ParticipantIDs: ids}, nil
	default:
		return policy, apperrors.ValidationFailed("invalid split policy", fmt.Sprintf("unsupported split mode %q", policy.Mode))
	}
}

func materialize(expense types.StoredExpense, roster []string) (*types.ExpenseWithSplits, error) {
	splits, err := settlement.MaterializeSplits(expense, roster)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ServerError, "Failed to materialize expense splits")
	}
	return &types.ExpenseWithSplits{Expense: expense.Expense, Splits: splits}, nil
}

func materializeAll(snapshot *store.LedgerSnapshot) ([]types.ExpenseWithSplits, error) {
	out := make([]types.ExpenseWithSplits, 0, len(snapshot.Expenses))
	for _, e := range snapshot.Expenses {
		m, err := materialize(e, snapshot.Roster)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, nil
}

// storeError maps store sentinels onto the application error taxonomy.
func (s *ExpenseService) storeError(err error, entity, id string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperrors.NotFound(entity, id)
	case errors.Is(err, store.ErrConflict):
		return apperrors.NewConflictError(fmt.Sprintf("%s already exists", entity), fmt.Sprintf("ID: %s", id))
	default:
		return apperrors.NewDatabaseError(err)
	}
}

// publish sends a trip event. Delivery is best effort: the ledger change is
// already committed, so a failure is only logged.
func (s *ExpenseService) publish(ctx context.Context, eventType types.EventType, tripID, userID string, payload types.ExpenseEventPayload) {
	if s.events == nil {
		return
	}
	data, err := payload.MarshalPayload()
	if err != nil {
		s.log.Warnw("Failed to marshal event payload", "eventType", eventType, "error", err)
		return
	}
	event := types.Event{
		BaseEvent: types.BaseEvent{
			Type:   eventType,
			TripID: tripID,
			UserID: userID,
		},
		Metadata: types.EventMetadata{
			CorrelationID: logger.RequestIDFromContext(ctx),
			Source:        eventSource,
		},
		Payload: data,
	}
	if err := s.events.Publish(ctx, tripID, event); err != nil {
		s.log.Warnw("Failed to publish expense event",
			"eventType", eventType,
			"tripID", tripID,
			"error", err)
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
