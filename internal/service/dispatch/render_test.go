package dispatch

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/stockalert-api/internal/model"
	"github.com/jwalitptl/stockalert-api/internal/sms"
)

func stock(symbol, name string) model.TrackedStock {
	return model.TrackedStock{Symbol: symbol, Name: model.StringPtr(name)}
}

func TestFormatStockList(t *testing.T) {
	tests := []struct {
		name   string
		stocks []model.TrackedStock
		want   string
	}{
		{"empty", nil, NoStocksText},
		{"single", []model.TrackedStock{stock("AAPL", "Apple Inc")}, "AAPL - Apple Inc"},
		{"missing name", []model.TrackedStock{stock("AAPL", ""), stock("MSFT", "Microsoft")}, "AAPL, MSFT - Microsoft"},
		{"blank name", []model.TrackedStock{stock("TSLA", "   ")}, "TSLA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatStockList(tt.stocks))
		})
	}
}

func TestRenderEmail(t *testing.T) {
	msg, err := RenderEmail("ada@example.com", []model.TrackedStock{stock("AAPL", "Apple <Inc>"), stock("MSFT", "")})
	require.NoError(t, err)

	assert.Equal(t, "ada@example.com", msg.To)
	assert.Equal(t, EmailSubject, msg.Subject)
	assert.Equal(t, "Your tracked stocks: AAPL - Apple <Inc>, MSFT", msg.TextBody)
	assert.Contains(t, msg.HTMLBody, "<strong>AAPL</strong> - Apple &lt;Inc&gt;")
	assert.Contains(t, msg.HTMLBody, "<strong>MSFT</strong></li>")
}

func TestRenderEmail_NoStocks(t *testing.T) {
	msg, err := RenderEmail("ada@example.com", nil)
	require.NoError(t, err)

	assert.Equal(t, NoStocksText, msg.TextBody)
	assert.Contains(t, msg.HTMLBody, "You don't have any tracked stocks.")
	assert.NotContains(t, msg.HTMLBody, "<ul>")
}

func TestRenderSMS(t *testing.T) {
	assert.Equal(t, "Tracked: AAPL - Apple Inc, MSFT. Reply STOP to opt out.",
		RenderSMS([]model.TrackedStock{stock("AAPL", "Apple Inc"), stock("MSFT", "")}))
	assert.Equal(t, NoStocksText+". Reply STOP to opt out.", RenderSMS(nil))
}

func TestRenderSMS_TruncatesAtEntryBoundary(t *testing.T) {
	var stocks []model.TrackedStock
	entries := map[string]bool{}
	for i := 0; i < 20; i++ {
		s := stock(fmt.Sprintf("SYM%d", i), fmt.Sprintf("Company Number %d", i))
		stocks = append(stocks, s)
		entries[formatStock(s)] = true
	}

	body := RenderSMS(stocks)
	assert.LessOrEqual(t, utf8.RuneCountInString(body), sms.MaxLength)
	require.True(t, strings.HasPrefix(body, smsPrefix))
	require.True(t, strings.HasSuffix(body, smsOptOut))

	list := strings.TrimSuffix(strings.TrimPrefix(body, smsPrefix), smsOptOut)
	require.True(t, strings.HasSuffix(list, ellipsis))
	for _, entry := range strings.Split(strings.TrimSuffix(list, ellipsis), listSeparator) {
		assert.True(t, entries[entry], "partial entry %q", entry)
	}
}

func TestRenderSMS_HardCutWithoutSeparator(t *testing.T) {
	body := RenderSMS([]model.TrackedStock{stock("LONG", strings.Repeat("x", 300))})

	assert.Equal(t, sms.MaxLength, utf8.RuneCountInString(body))
	assert.Contains(t, body, "xxx..."+smsOptOut)
}

func TestRenderSMS_MultibyteNames(t *testing.T) {
	var stocks []model.TrackedStock
	for i := 0; i < 15; i++ {
		stocks = append(stocks, stock(fmt.Sprintf("É%d", i), "Société Générale ünïcödé"))
	}

	body := RenderSMS(stocks)
	assert.True(t, utf8.ValidString(body))
	assert.LessOrEqual(t, utf8.RuneCountInString(body), sms.MaxLength)
}
