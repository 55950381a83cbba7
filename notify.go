package redeem

import (
	"context"
	"fmt"

	"github.com/xraph/redeem/order"
)

// Customer-facing message templates. Every failure text names a next action.
const (
	msgPayCode          = "Order for %s created. Pay %s with code: %s"
	msgPayCodeDegraded  = "Order for %s created. Payments are delayed right now; pay %s with code %s and an operator will confirm it."
	msgPaymentConfirmed = "Payment confirmed. You have %s in credit; choose any product to redeem it."
	msgPaymentRejected  = "Your payment for %s was rejected. Choose a product to try again."
	msgPaymentCancelled = "Your payment for %s was cancelled. Choose a product to try again."
	msgOrderCancelled   = "Order for %s cancelled."
	msgOrderExpired     = "Order for %s expired without payment. Choose a product to start again."
	msgSendActivation   = "%s selected. Send the activation details to continue."
	msgProcessing       = "Processing your activation of %s, please wait."
	msgActivated        = "%s activated.\n%s"
	msgActivationFailed = "Activation of %s failed: %s. Your credit of %s is still available; choose a product to retry."
	msgFailedNoCredit   = "Activation of %s failed: %s. Please contact support."
	msgStillPending     = "We have not received your payment yet. Pay with code: %s"
	msgContactSupport   = "We could not confirm the activation of %s. Your case was sent to support; please contact them with order %s."
	msgCreditRestored   = "Your credit of %s is available again; choose a product."
	msgCreditCleared    = "Your credit was closed by an operator: %s"
	msgManualReview     = "Your account needs a quick manual check. Please contact support."
)

// notify sends text to the customer. Delivery failures are logged and never
// undo the state change that triggered them.
func (e *Engine) notify(ctx context.Context, customerID, format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	if err := e.channel.SendMessage(ctx, customerID, text); err != nil {
		e.logger.Warn("failed to notify customer",
			"customer_id", customerID,
			"error", err,
		)
	}
}

func productName(o *order.Order) string {
	return o.ActivationProduct().Name
}
