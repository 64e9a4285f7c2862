package callback

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"checkout-dispatch/internal/apperr"
	"github.com/h2non/gock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSender_Send(t *testing.T) {
	tests := []struct {
		name           string
		mockResponse   func()
		expectedError  bool
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "Success",
			mockResponse: func() {
				gock.New("http://example.com").
					Post("/callback").
					MatchHeader("Content-Type", "application/json").
					MatchHeader("X-Webhook-Event", "purchase_approved").
					Reply(200).
					BodyString("ok")
			},
			expectedStatus: 200,
			expectedBody:   "ok",
		},
		{
			name: "Accepted",
			mockResponse: func() {
				gock.New("http://example.com").
					Post("/callback").
					Reply(204)
			},
			expectedStatus: 204,
		},
		{
			name: "Error",
			mockResponse: func() {
				gock.New("http://example.com").
					Post("/callback").
					Reply(500).
					BodyString("internal server error")
			},
			expectedError:  true,
			expectedStatus: 500,
			expectedBody:   "internal server error",
		},
		{
			name: "Redirect is not success",
			mockResponse: func() {
				gock.New("http://example.com").
					Post("/callback").
					Reply(304)
			},
			expectedError:  true,
			expectedStatus: 304,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer gock.Off()
			tt.mockResponse()

			sender := NewSender(time.Second, 0, slog.Default())

			resp, err := sender.Send(context.Background(), Request{
				URL:     "http://example.com/callback",
				Body:    []byte(`{"data":"test"}`),
				Headers: map[string]string{"X-Webhook-Event": "purchase_approved"},
			})
			if tt.expectedError {
				assert.True(t, errors.Is(err, apperr.ErrTransientDelivery))
			} else {
				assert.NoError(t, err)
			}
			require.NotNil(t, resp)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
			assert.Equal(t, tt.expectedBody, resp.Body)
			assert.True(t, gock.IsDone())
		})
	}
}

func TestSender_NetworkError(t *testing.T) {
	defer gock.Off()
	gock.New("http://example.com").
		Post("/callback").
		ReplyError(errors.New("connection refused"))

	sender := NewSender(time.Second, 0, slog.Default())
	resp, err := sender.Send(context.Background(), Request{URL: "http://example.com/callback", Body: []byte(`{}`)})

	assert.Nil(t, resp)
	assert.True(t, errors.Is(err, apperr.ErrTransientDelivery))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestSender_TruncatesResponseBody(t *testing.T) {
	defer gock.Off()
	gock.New("http://example.com").
		Post("/callback").
		Reply(200).
		BodyString(strings.Repeat("a", 2000))

	sender := NewSender(time.Second, 16, slog.Default())
	resp, err := sender.Send(context.Background(), Request{URL: "http://example.com/callback", Body: []byte(`{}`)})

	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", 16), resp.Body)
}
