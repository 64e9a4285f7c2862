package model

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// PaymentDetails is one of PixDetails, BoletoDetails or CardDetails; nil means none.
type PaymentDetails interface {
	Method() PaymentMethod
}

type PixDetails struct {
	ChargeID  string    `json:"chargeId"`
	QRCode    string    `json:"qrCode"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (PixDetails) Method() PaymentMethod { return MethodPix }

type BoletoDetails struct {
	Barcode       string    `json:"barcode"`
	DigitableLine string    `json:"digitableLine"`
	URL           string    `json:"url"`
	DueDate       time.Time `json:"dueDate"`
}

func (BoletoDetails) Method() PaymentMethod { return MethodBoleto }

type CardDetails struct {
	Brand        string `json:"brand"`
	LastDigits   string `json:"lastDigits"`
	Installments int    `json:"installments"`
}

func (CardDetails) Method() PaymentMethod { return MethodCard }

type storedDetails struct {
	Kind PaymentMethod   `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// EncodePaymentDetails produces the tagged JSON stored alongside the order.
func EncodePaymentDetails(details PaymentDetails) ([]byte, error) {
	if details == nil {
		return nil, nil
	}
	data, err := json.Marshal(details)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payment details")
	}
	return json.Marshal(storedDetails{Kind: details.Method(), Data: data})
}

func DecodePaymentDetails(raw []byte) (PaymentDetails, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var stored storedDetails
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, errors.Wrap(err, "unmarshal payment details")
	}

	var details PaymentDetails
	var err error
	switch stored.Kind {
	case MethodPix:
		var d PixDetails
		err = json.Unmarshal(stored.Data, &d)
		details = d
	case MethodBoleto:
		var d BoletoDetails
		err = json.Unmarshal(stored.Data, &d)
		details = d
	case MethodCard:
		var d CardDetails
		err = json.Unmarshal(stored.Data, &d)
		details = d
	default:
		return nil, errors.Errorf("unknown payment details kind %q", stored.Kind)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unmarshal %s details", stored.Kind)
	}
	return details, nil
}
