package enums

type FinalizeOutcome string

const (
	FinalizeOutcomeCompleted             FinalizeOutcome = "completed"
	FinalizeOutcomeDegraded              FinalizeOutcome = "degraded"
	FinalizeOutcomePendingReconciliation FinalizeOutcome = "pending_reconciliation"
	// FinalizeOutcomeAwaitingPayment means the checkout exists but the
	// provider has not reported it paid. No access is granted.
	FinalizeOutcomeAwaitingPayment FinalizeOutcome = "awaiting_payment"
)
