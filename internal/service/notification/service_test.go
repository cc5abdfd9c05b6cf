package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/stockalert-api/internal/email"
	"github.com/jwalitptl/stockalert-api/internal/model"
	"github.com/jwalitptl/stockalert-api/internal/repository/memory"
	"github.com/jwalitptl/stockalert-api/internal/sms"
	apperrors "github.com/jwalitptl/stockalert-api/pkg/errors"
)

type mockEmail struct{ mock.Mock }

func (m *mockEmail) Send(ctx context.Context, msg email.Message) (model.DeliveryResult, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(model.DeliveryResult), args.Error(1)
}

type mockSMS struct{ mock.Mock }

func (m *mockSMS) Send(ctx context.Context, msg sms.Message) (model.DeliveryResult, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(model.DeliveryResult), args.Error(1)
}

func newTestService(t *testing.T) (*memory.Store, *mockEmail, *mockSMS, Service, uuid.UUID) {
	t.Helper()
	store := memory.NewStore()
	id := uuid.New()
	store.PutProfile(model.NotificationProfile{
		ID:                        id,
		Email:                     model.StringPtr("grace@example.com"),
		PhoneCountryCode:          model.StringPtr("+44"),
		PhoneNumber:               model.StringPtr("7911123456"),
		EmailNotificationsEnabled: true,
		SMSNotificationsEnabled:   true,
		PhoneVerified:             true,
	})
	store.PutStocks(id, model.TrackedStock{Symbol: "VOD", Name: model.StringPtr("Vodafone")})

	em, sm := new(mockEmail), new(mockSMS)
	return store, em, sm, NewService(store, store, store, em, sm, nil, nil), id
}

func TestSendTest_Email(t *testing.T) {
	store, em, _, svc, id := newTestService(t)
	em.On("Send", mock.Anything, mock.MatchedBy(func(m email.Message) bool {
		return m.To == "grace@example.com" && m.TextBody == "Your tracked stocks: VOD - Vodafone"
	})).Return(model.Delivered("m1"), nil).Once()

	res, err := svc.SendTest(context.Background(), id, model.ChannelEmail)
	require.NoError(t, err)
	assert.True(t, res.Delivered)
	assert.True(t, res.Logged)

	logs := store.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, model.NotificationTypeTest, logs[0].Type)
	assert.Empty(t, store.Claims())
	em.AssertExpectations(t)
}

func TestSendTest_SMSFailureIsReported(t *testing.T) {
	store, _, sm, svc, id := newTestService(t)
	sm.On("Send", mock.Anything, sms.Message{To: "+447911123456", Body: "Tracked: VOD - Vodafone. Reply STOP to opt out."}).
		Return(model.DeliveryFailed("unreachable", "30003"), nil).Once()
	store.Fail.CreateLog = errors.New("insert failed")

	res, err := svc.SendTest(context.Background(), id, model.ChannelSMS)
	require.NoError(t, err)
	assert.False(t, res.Delivered)
	assert.False(t, res.Logged)
	assert.Equal(t, "30003", res.ErrorCode)
	sm.AssertExpectations(t)
}

func TestSendTest_Rejections(t *testing.T) {
	store, _, _, svc, id := newTestService(t)

	_, err := svc.SendTest(context.Background(), id, model.Channel("push"))
	assert.Equal(t, 400, apperrors.HTTPStatus(err))

	_, err = svc.SendTest(context.Background(), uuid.New(), model.ChannelEmail)
	assert.Equal(t, 404, apperrors.HTTPStatus(err))

	require.NoError(t, store.SetSMSOptOut(context.Background(), id, true))
	_, err = svc.SendTest(context.Background(), id, model.ChannelSMS)
	assert.Equal(t, 400, apperrors.HTTPStatus(err))
}

func TestPreview(t *testing.T) {
	_, em, sm, svc, id := newTestService(t)

	p, err := svc.Preview(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, "Your Stock Update", p.Email.Subject)
	assert.Equal(t, "Your tracked stocks: VOD - Vodafone", p.Email.Text)
	assert.Contains(t, p.Email.HTML, "<strong>VOD</strong>")
	assert.Equal(t, "Tracked: VOD - Vodafone. Reply STOP to opt out.", p.SMS)
	require.Len(t, p.Stocks, 1)
	em.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	sm.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestPreview_StockLoadFailure(t *testing.T) {
	store, _, _, svc, id := newTestService(t)
	store.Fail.ListTracked = errors.New("timeout")

	_, err := svc.Preview(context.Background(), id)
	assert.Equal(t, 500, apperrors.HTTPStatus(err))
}
