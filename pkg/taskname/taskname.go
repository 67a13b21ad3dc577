package taskname

const (
	// Notification tasks
	NotificationDispatch = "notification:dispatch"

	// Payment tasks
	PaymentVerified = "payment:verified"

	// Settlement tasks
	SettlementRetry = "settlement:retry"
)
