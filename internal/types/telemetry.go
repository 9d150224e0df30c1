package types

// Metric names emitted by the reminder pipeline. Dimensions are kept small
// (Outcome, Backend) to bound CloudWatch cardinality.
const (
	MetricRemindersScheduled = "RemindersScheduled"
	MetricRemindersCancelled = "RemindersCancelled"
	MetricReminderOutcome    = "ReminderOutcome"
	MetricReminderRetried    = "ReminderRetried"
	MetricReminderBuried     = "ReminderBuried"
	MetricPushLatency        = "PushGatewayLatency"
)
