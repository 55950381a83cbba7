package audithook

// Action constants for audit events.
const (
	// Order actions
	ActionOrderCreated   = "order.created"
	ActionOrderSettled   = "order.settled"
	ActionOrderRejected  = "order.rejected"
	ActionOrderCancelled = "order.cancelled"
	ActionOrderExpired   = "order.expired"

	// Credit actions
	ActionCreditGranted     = "credit.granted"
	ActionCreditConsumed    = "credit.consumed"
	ActionCreditCompensated = "credit.compensated"
	ActionCreditCleared     = "credit.cleared"

	// Activation actions
	ActionActivationStarted   = "activation.started"
	ActionActivationSucceeded = "activation.succeeded"
	ActionActivationFailed    = "activation.failed"

	// Reconciliation actions
	ActionLedgerInconsistency = "ledger.inconsistency"
	ActionWebhookReceived     = "webhook.received"
	ActionReconcileCycle      = "reconcile.cycle"
)

// Resource constants for audit events.
const (
	ResourceOrder      = "order"
	ResourceCredit     = "credit"
	ResourceActivation = "activation"
	ResourceSession    = "session"
	ResourceWebhook    = "webhook"
	ResourceReconciler = "reconciler"
)

// Category constants for audit events.
const (
	CategoryPayment     = "payment"
	CategoryCredit      = "credit"
	CategoryFulfillment = "fulfillment"
	CategoryIntegrity   = "integrity"
	CategoryIntegration = "integration"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
