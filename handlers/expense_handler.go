package handlers

import (
	"context"
	"errors"
	"net/http"

	apperrors "github.com/NomadCrew/nomad-crew-ledger/errors"
	expenseSvc "github.com/NomadCrew/nomad-crew-ledger/models/expense/service"
	"github.com/NomadCrew/nomad-crew-ledger/pkg/valueobjects"
	"github.com/NomadCrew/nomad-crew-ledger/types"
	"github.com/gin-gonic/gin"
)

// ExpenseServiceInterface defines the methods used by ExpenseHandler,
// allowing the handler to be tested with mocks.
type ExpenseServiceInterface interface {
	RecordExpense(ctx context.Context, tripID, payerID string, amount valueobjects.Money, category, description string, policy types.SplitPolicy) (*types.ExpenseWithSplits, error)
	MarkSplitPaid(ctx context.Context, expenseID, participantID string, paid bool) (*types.ExpenseWithSplits, error)
	GetExpense(ctx context.Context, expenseID string) (*types.ExpenseWithSplits, error)
	ListExpenses(ctx context.Context, tripID string) ([]types.ExpenseWithSplits, error)
	DeleteExpense(ctx context.Context, expenseID string) error
	GetBalances(ctx context.Context, tripID string) (*types.BalanceSheet, error)
	GetSettlementPlan(ctx context.Context, tripID string) (*types.SettlementPlan, error)
}

// Ensure the concrete service satisfies the interface at compile time.
var _ ExpenseServiceInterface = (*expenseSvc.ExpenseService)(nil)

type ExpenseHandler struct {
	expenseService ExpenseServiceInterface
}

func NewExpenseHandler(expenseService ExpenseServiceInterface) *ExpenseHandler {
	return &ExpenseHandler{
		expenseService: expenseService,
	}
}

// RecordExpenseHandler records an expense on a trip.
// POST /v1/trips/:id/expenses
func (h *ExpenseHandler) RecordExpenseHandler(c *gin.Context) {
	tripID := c.Param("id")

	var req types.RecordExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bindError(err))
		return
	}

	expense, err := h.expenseService.RecordExpense(c.Request.Context(), tripID, req.PayerID, req.Amount, req.Category, req.Description, req.Split)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, expense)
}

// ListExpensesHandler lists a trip's expenses with their splits.
// GET /v1/trips/:id/expenses
func (h *ExpenseHandler) ListExpensesHandler(c *gin.Context) {
	expenses, err := h.expenseService.ListExpenses(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, expenses)
}

// GetExpenseHandler returns one expense.
// GET /v1/trips/:id/expenses/:expenseId
func (h *ExpenseHandler) GetExpenseHandler(c *gin.Context) {
	expense, ok := h.expenseInTrip(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, expense)
}

// DeleteExpenseHandler removes an expense.
// DELETE /v1/trips/:id/expenses/:expenseId
func (h *ExpenseHandler) DeleteExpenseHandler(c *gin.Context) {
	expense, ok := h.expenseInTrip(c)
	if !ok {
		return
	}

	if err := h.expenseService.DeleteExpense(c.Request.Context(), expense.ID); err != nil {
		_ = c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

// MarkSplitPaidHandler sets the paid flag of a participant's share.
// PATCH /v1/trips/:id/expenses/:expenseId/splits/:participantId
func (h *ExpenseHandler) MarkSplitPaidHandler(c *gin.Context) {
	var req types.MarkSplitPaidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bindError(err))
		return
	}

	expense, ok := h.expenseInTrip(c)
	if !ok {
		return
	}

	updated, err := h.expenseService.MarkSplitPaid(c.Request.Context(), expense.ID, c.Param("participantId"), *req.Paid)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, updated)
}

// GetBalancesHandler returns every participant's net balance.
// GET /v1/trips/:id/balances
func (h *ExpenseHandler) GetBalancesHandler(c *gin.Context) {
	sheet, err := h.expenseService.GetBalances(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, sheet)
}

// GetSettlementPlanHandler returns the suggested transfers.
// GET /v1/trips/:id/settlements
func (h *ExpenseHandler) GetSettlementPlanHandler(c *gin.Context) {
	plan, err := h.expenseService.GetSettlementPlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, plan.Settlements)
}

// expenseInTrip loads the expense named in the path and checks it belongs to
// the trip in the path. An expense of another trip is reported as not found.
func (h *ExpenseHandler) expenseInTrip(c *gin.Context) (*types.ExpenseWithSplits, bool) {
	tripID := c.Param("id")
	expenseID := c.Param("expenseId")

	expense, err := h.expenseService.GetExpense(c.Request.Context(), expenseID)
	if err != nil {
		_ = c.Error(err)
		return nil, false
	}
	if expense.TripID != tripID {
		_ = c.Error(apperrors.NotFound("Expense", expenseID))
		return nil, false
	}
	return expense, true
}

// bindError keeps validation errors raised while decoding (such as an amount
// with too many decimals) and wraps everything else.
func bindError(err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperrors.ValidationFailed("invalid request body", err.Error())
}
