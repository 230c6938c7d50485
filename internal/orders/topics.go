package orders

const (
	TopicOrderReconciled      = "order.reconciled"
	TopicReconciliationFailed = "order.reconciliation.failed"
)

// Partition key = session_id so every event of one payment session keeps order.
func PartitionKey(sessionID string) []byte { return []byte(sessionID) }
