package restq

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Envelope is the structured wrapper the server returns for every call.
// Success means StatusCode is 200 or 201 and Error is false; everything
// else is a protocol failure carrying Message.
type Envelope struct {
	StatusCode int             `json:"statusCode"`
	Error      bool            `json:"error"`
	Message    string          `json:"message,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// DecodeEnvelope parses a response body into an Envelope. A body whose
// "data" key is absent is a hard validation failure; "data": null is
// present and decodes to a null RawMessage. The presence check needs
// gjson because encoding/json cannot distinguish a missing key from an
// explicit null.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	if !gjson.ValidBytes(body) {
		return nil, &Error{
			Kind:    KindValidation,
			Message: "response body is not valid JSON",
		}
	}

	if !gjson.GetBytes(body, "data").Exists() {
		return nil, &Error{
			Kind:    KindValidation,
			Message: "envelope missing data field",
			Cause:   ErrMissingData,
		}
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &Error{
			Kind:    KindValidation,
			Message: "malformed envelope",
			Cause:   err,
		}
	}

	return &env, nil
}

// OK reports whether the envelope denotes success.
func (e *Envelope) OK() bool {
	return (e.StatusCode == 200 || e.StatusCode == 201) && !e.Error
}

// Err converts a failed envelope into a typed error. fallback is used when
// the server supplied no message. A 401 envelope is classified KindAuth so
// callers can trigger session teardown.
func (e *Envelope) Err(fallback string) error {
	msg := e.Message
	if msg == "" {
		msg = fallback
	}

	kind := KindProtocol
	if e.StatusCode == 401 {
		kind = KindAuth
	}

	return &Error{
		Kind:       kind,
		Message:    msg,
		StatusCode: e.StatusCode,
	}
}
