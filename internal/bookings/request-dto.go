package bookings

type AttachPaymentRequest struct {
	EvidenceRef string `json:"evidence_ref" binding:"required"`
}

type RejectBookingRequest struct {
	Reason string `json:"reason" binding:"required,max=500"`
}
