package payload

import (
	"testing"
	"time"

	"checkout-dispatch/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPII(t *testing.T) {
	assert.Equal(t, HashPII("maria@example.com"), HashPII("  Maria@Example.COM "))
	assert.Len(t, HashPII("x"), 64)
}

func TestBuildCapiEvent(t *testing.T) {
	order := testOrder()
	now := time.Unix(1714575600, 0)

	e, ok := BuildCapiEvent(order, testProduct(), model.EventPurchaseApproved, now)
	require.True(t, ok)

	assert.Equal(t, "Purchase", e.EventName)
	assert.Equal(t, int64(1714575600), e.EventTime)
	assert.Equal(t, "o1_purchase_approved", e.EventID)
	assert.Equal(t, []string{HashPII("maria@example.com")}, e.UserData.Em)
	assert.Equal(t, []string{HashPII("maria")}, e.UserData.Fn)
	assert.Equal(t, []string{HashPII("silva")}, e.UserData.Ln)
	assert.Equal(t, "203.0.113.7", e.UserData.ClientIPAddress)
	assert.Equal(t, "Mozilla/5.0", e.UserData.ClientUserAgent)
	assert.Equal(t, "fb.1.123.456", e.UserData.Fbp)
	assert.Equal(t, "10.00", e.CustomData.Value.String())
	assert.Equal(t, []string{"p1"}, e.CustomData.ContentIDs)

	b, err := Encode(CapiRequest{Data: []CapiEvent{*e}, AccessToken: "tok"})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"value":10.00`)
	assert.NotContains(t, string(b), "maria@example.com")
}

func TestBuildCapiEvent_Skips(t *testing.T) {
	order := testOrder()

	_, ok := BuildCapiEvent(order, nil, model.EventPurchaseRefunded, time.Now())
	assert.False(t, ok)

	order.Status = model.StatusAbandoned
	_, ok = BuildCapiEvent(order, nil, model.EventPurchaseApproved, time.Now())
	assert.False(t, ok)

	order = testOrder()
	order.Customer = model.Customer{}
	e, ok := BuildCapiEvent(order, nil, model.EventPixGenerated, time.Now())
	require.True(t, ok)
	assert.Equal(t, "InitiateCheckout", e.EventName)
	assert.Nil(t, e.UserData.Em)
	assert.Nil(t, e.UserData.Fn)
}
