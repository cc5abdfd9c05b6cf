package email

import (
	"bytes"
	"context"
	"errors"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

type mockDialer struct {
	mock.Mock
}

func (m *mockDialer) DialAndSend(msgs ...*gomail.Message) error {
	args := m.Called(msgs)
	return args.Error(0)
}

func TestSMTPSender_Send(t *testing.T) {
	d := new(mockDialer)
	var sent *gomail.Message
	d.On("DialAndSend", mock.Anything).Run(func(args mock.Arguments) {
		sent = args.Get(0).([]*gomail.Message)[0]
	}).Return(nil)

	s := newSMTPSender(d, Config{From: "Alerts <alerts@example.com>"})
	res, err := s.Send(context.Background(), Message{
		To:       "user@example.com",
		Subject:  "Your Stock Update",
		TextBody: "Your tracked stocks: AAPL",
		HTMLBody: "<p>AAPL</p>",
	})

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.ProviderMessageID, "@example.com>")
	require.NotNil(t, sent)
	assert.Equal(t, []string{"user@example.com"}, sent.GetHeader("To"))
	assert.Equal(t, []string{"Your Stock Update"}, sent.GetHeader("Subject"))

	var buf bytes.Buffer
	_, err = sent.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Your tracked stocks: AAPL")
	d.AssertExpectations(t)
}

func TestSMTPSender_ProviderFailureIsAResult(t *testing.T) {
	d := new(mockDialer)
	d.On("DialAndSend", mock.Anything).Return(&textproto.Error{Code: 550, Msg: "mailbox unavailable"})

	s := newSMTPSender(d, Config{From: "alerts@example.com"})
	res, err := s.Send(context.Background(), Message{To: "nobody@example.com", Subject: "x", TextBody: "y"})

	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "smtp_550", res.ErrorCode)
	assert.Contains(t, res.Error, "mailbox unavailable")

	d2 := new(mockDialer)
	d2.On("DialAndSend", mock.Anything).Return(errors.New("dial tcp: refused"))
	res, err = newSMTPSender(d2, Config{}).Send(context.Background(), Message{To: "a@b.c"})
	require.NoError(t, err)
	assert.Equal(t, "smtp_error", res.ErrorCode)
}

func TestSMTPSender_MissingRecipient(t *testing.T) {
	d := new(mockDialer)
	s := newSMTPSender(d, Config{})

	res, err := s.Send(context.Background(), Message{To: "  "})
	require.NoError(t, err)
	assert.False(t, res.Success)
	d.AssertNotCalled(t, "DialAndSend", mock.Anything)
}

func TestSMTPSender_CancelledContext(t *testing.T) {
	d := new(mockDialer)
	s := newSMTPSender(d, Config{PerSecond: 0.001})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Send(ctx, Message{To: "a@b.c"})
	assert.Error(t, err)
	d.AssertNotCalled(t, "DialAndSend", mock.Anything)
}
