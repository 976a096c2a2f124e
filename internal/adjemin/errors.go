package adjemin

// AuthError indicates that the OAuth client-credentials exchange was
// rejected by the provider.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	if e == nil || e.Message == "" {
		return "Client authentication failed"
	}
	return e.Message
}

// CheckoutError indicates that the provider refused to open a hosted
// checkout session.
type CheckoutError struct {
	Message string
	Err     error
}

func (e *CheckoutError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "Error when getting payment URL"
}

// Unwrap allows errors.Is/As to inspect the underlying cause.
func (e *CheckoutError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
