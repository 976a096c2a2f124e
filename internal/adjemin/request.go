package adjemin

// CheckoutRequest is the wire payload for creating a hosted checkout
// session. Amount is expressed in whole XOF units; the currency has no
// subunits, which is why the order total is truncated rather than scaled.
type CheckoutRequest struct {
	Amount            int64  `json:"amount" validate:"required,gt=0"`
	CurrencyCode      string `json:"currency_code" validate:"required,eq=XOF"`
	MerchantTransID   string `json:"merchant_trans_id" validate:"required"`
	MerchantTransData string `json:"merchant_trans_data" validate:"required,json"`
	Designation       string `json:"designation" validate:"required"`
	CustomerEmail     string `json:"customer_email" validate:"omitempty,email"`
	CustomerFirstname string `json:"customer_firstname"`
	CustomerLastname  string `json:"customer_lastname"`
	WebhookURL        string `json:"webhook_url" validate:"required,url"`
	ReturnURL         string `json:"return_url" validate:"required,url"`
	CancelURL         string `json:"cancel_url" validate:"omitempty,url"`
}
