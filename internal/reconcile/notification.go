package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"strings"
)

// ErrEmptyBody signals an IPN delivery with no payload. The receiver
// answers these with a fixed HTTP 500 failure text so the provider retries.
var ErrEmptyBody = errors.New("reconcile: empty notification body")

// Notification is an inbound provider notification. Raw keeps every posted
// field so abort responses can echo the original parameters back.
type Notification struct {
	Items           string
	Status          string
	MerchantTransID string
	Raw             map[string]string
}

// ParseNotification decodes an IPN body. The provider posts
// form-encoded payloads; JSON is accepted as well since sandbox deliveries
// use it. Only presence of a body is validated here; field-level checks
// belong to the engine.
func ParseNotification(contentType string, body []byte) (Notification, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return Notification{}, ErrEmptyBody
	}

	mediaType := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}

	var raw map[string]string
	switch {
	case strings.Contains(mediaType, "json"):
		var fields map[string]any
		if err := json.Unmarshal(body, &fields); err != nil {
			return Notification{}, fmt.Errorf("reconcile: decode notification: %w", err)
		}
		raw = make(map[string]string, len(fields))
		for k, v := range fields {
			raw[k] = stringify(v)
		}
	default:
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return Notification{}, fmt.Errorf("reconcile: decode notification: %w", err)
		}
		raw = make(map[string]string, len(values))
		for k := range values {
			raw[k] = values.Get(k)
		}
	}

	return Notification{
		Items:           raw["items"],
		Status:          raw["status"],
		MerchantTransID: raw["merchant_trans_id"],
		Raw:             raw,
	}, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		return fmt.Sprintf("%t", t)
	case nil:
		return ""
	default:
		encoded, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}
