package usage

// BudgetReader provides read-only access to one provider's token budget state.
type BudgetReader interface {
	Kind() string
	Provider() string
	DailyLimit() int64
	MonthlyLimit() int64
	DailyUsed() int64
	MonthlyUsed() int64
	RemainingDaily() int64
	RemainingMonthly() int64
}
