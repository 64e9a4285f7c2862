package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentDetails_DecodeKeepsVariant(t *testing.T) {
	expires := time.Date(2024, 5, 1, 12, 15, 0, 0, time.UTC)
	raw, err := EncodePaymentDetails(PixDetails{ChargeID: "ch_1", QRCode: "000201", ExpiresAt: expires})
	require.NoError(t, err)

	details, err := DecodePaymentDetails(raw)
	require.NoError(t, err)

	pix, ok := details.(PixDetails)
	require.True(t, ok, "expected PixDetails, got %T", details)
	assert.Equal(t, "ch_1", pix.ChargeID)
	assert.True(t, expires.Equal(pix.ExpiresAt))
}

func TestPaymentDetails_NoneAndUnknown(t *testing.T) {
	raw, err := EncodePaymentDetails(nil)
	require.NoError(t, err)
	assert.Nil(t, raw)

	details, err := DecodePaymentDetails(nil)
	assert.NoError(t, err)
	assert.Nil(t, details)

	_, err = DecodePaymentDetails([]byte(`{"kind":"crypto","data":{}}`))
	assert.Error(t, err)
}
