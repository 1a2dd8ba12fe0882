package shared

// VerificationMethod identifies which entry path confirmed a payment
type VerificationMethod string

const (
	VerificationMethodWebhook VerificationMethod = "webhook"
	VerificationMethodPolling VerificationMethod = "polling"
	VerificationMethodManual  VerificationMethod = "manual"
)

// StageResult is the outcome of a single matcher validation stage
type StageResult struct {
	Valid   bool   `json:"valid" bson:"valid"`
	Message string `json:"message,omitempty" bson:"message,omitempty"`
}

// ValidationDetails records the outcome of every matcher stage for audit.
// Stages after the terminal failure are left at their zero value; they were
// never evaluated.
type ValidationDetails struct {
	ReferenceFound   StageResult `json:"reference_found" bson:"reference_found"`
	ReservationValid StageResult `json:"reservation_valid" bson:"reservation_valid"`
	ChecksumValid    StageResult `json:"checksum_valid" bson:"checksum_valid"`
	AmountValid      StageResult `json:"amount_valid" bson:"amount_valid"`
	TimestampValid   StageResult `json:"timestamp_valid" bson:"timestamp_valid"`
}
