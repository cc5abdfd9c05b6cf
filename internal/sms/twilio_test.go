package sms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTwilioSender_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "token", pass)

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "+15551230000", r.PostForm.Get("To"))
		assert.Equal(t, "+15550000000", r.PostForm.Get("From"))
		assert.Equal(t, "Tracked: AAPL. Reply STOP to opt out.", r.PostForm.Get("Body"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM42","status":"queued"}`))
	}))
	defer srv.Close()

	s := NewTwilioSender(Config{BaseURL: srv.URL, AccountSID: "AC123", AuthToken: "token", From: "+15550000000"})
	res, err := s.Send(context.Background(), Message{To: "+15551230000", Body: "Tracked: AAPL. Reply STOP to opt out."})

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "SM42", res.ProviderMessageID)
}

func TestTwilioSender_ProviderRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"The 'To' number is not a valid phone number.","status":400}`))
	}))
	defer srv.Close()

	s := NewTwilioSender(Config{BaseURL: srv.URL, AccountSID: "AC1", AuthToken: "t", From: "+1"})
	res, err := s.Send(context.Background(), Message{To: "+1000"})

	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "21211", res.ErrorCode)
	assert.Contains(t, res.Error, "not a valid phone number")
}

func TestTwilioSender_ServerErrorsTripBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewTwilioSender(Config{BaseURL: srv.URL, AccountSID: "AC1", AuthToken: "t", From: "+1"})
	for i := 0; i < 5; i++ {
		res, err := s.Send(context.Background(), Message{To: "+15551230000", Body: "x"})
		require.NoError(t, err)
		assert.Equal(t, "provider_unavailable", res.ErrorCode)
	}

	res, err := s.Send(context.Background(), Message{To: "+15551230000", Body: "x"})
	require.NoError(t, err)
	assert.Equal(t, "circuit_open", res.ErrorCode)
	assert.Equal(t, int32(5), hits.Load())
}

func TestTwilioSender_MissingRecipient(t *testing.T) {
	s := NewTwilioSender(Config{BaseURL: "http://127.0.0.1:1"})
	res, err := s.Send(context.Background(), Message{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "invalid_recipient", res.ErrorCode)
}

func TestSignature(t *testing.T) {
	params := url.Values{
		"From": {"+15551230000"},
		"Body": {"STOP"},
		"To":   {"+15550000000"},
	}
	const (
		token    = "auth-token"
		endpoint = "https://stocks.example.com/api/v1/notifications/sms/inbound"
	)

	sig := ComputeSignature(token, endpoint, params)
	assert.NotEmpty(t, sig)
	assert.True(t, ValidateSignature(token, sig, endpoint, params))

	reordered := url.Values{}
	reordered.Set("To", "+15550000000")
	reordered.Set("Body", "STOP")
	reordered.Set("From", "+15551230000")
	assert.Equal(t, sig, ComputeSignature(token, endpoint, reordered))

	tampered := url.Values{"From": {"+15551230000"}, "Body": {"START"}, "To": {"+15550000000"}}
	assert.False(t, ValidateSignature(token, sig, endpoint, tampered))
	assert.False(t, ValidateSignature("other-token", sig, endpoint, params))
	assert.False(t, ValidateSignature(token, sig, endpoint+"?x=1", params))
	assert.False(t, ValidateSignature(token, "", endpoint, params))
	assert.False(t, ValidateSignature("", sig, endpoint, params))
}
