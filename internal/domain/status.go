package domain

// DeliveryStatus is the ephemeral per-message lifecycle state shown to the
// UI. It exists only for user-authored messages, lives in memory, and is not
// persisted across restarts: any message still sitting in the offline queue
// at boot is reconstructed as StatusFailed.
type DeliveryStatus string

const (
	StatusSending   DeliveryStatus = "sending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusFailed    DeliveryStatus = "failed"
)

// Valid reports whether s is one of the known delivery states.
func (s DeliveryStatus) Valid() bool {
	switch s {
	case StatusSending, StatusSent, StatusDelivered, StatusFailed:
		return true
	}
	return false
}
