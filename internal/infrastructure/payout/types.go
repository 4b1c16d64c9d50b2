package payout

// submitRequest is the body of POST /v1/payouts. Amounts are in cents.
type submitRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	Method         string `json:"method"`
	Amount         int64  `json:"amount"`
	PixKey         string `json:"pix_key,omitempty"`
	PixKeyType     string `json:"pix_key_type,omitempty"`
	ChainAddress   string `json:"chain_address,omitempty"`
}

// payoutResponse is returned by both submission and status endpoints
type payoutResponse struct {
	Ref    string `json:"payout_ref"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// errorResponse is the rail's error envelope
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
