package dispatch

import (
	"bytes"
	"html/template"
	"strings"

	"github.com/jwalitptl/stockalert-api/internal/email"
	"github.com/jwalitptl/stockalert-api/internal/model"
	"github.com/jwalitptl/stockalert-api/internal/sms"
)

const (
	EmailSubject   = "Your Stock Update"
	NoStocksText   = "You don't have any tracked stocks"
	smsPrefix      = "Tracked: "
	smsOptOut      = ". Reply STOP to opt out."
	ellipsis       = "..."
	listSeparator  = ", "
	emailListLabel = "Your tracked stocks: "
)

var emailTemplate = template.Must(template.New("digest").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif;">
<h2>Your Stock Update</h2>
{{if .Stocks}}<p>Your tracked stocks:</p>
<ul>
{{range .Stocks}}<li><strong>{{.Symbol}}</strong>{{if .Name}} - {{.Name}}{{end}}</li>
{{end}}</ul>{{else}}<p>You don't have any tracked stocks.</p>{{end}}
</body>
</html>
`))

type emailStock struct {
	Symbol string
	Name   string
}

// FormatStockList renders "SYM - Name" entries joined by ", ".
func FormatStockList(stocks []model.TrackedStock) string {
	if len(stocks) == 0 {
		return NoStocksText
	}
	parts := make([]string, 0, len(stocks))
	for _, s := range stocks {
		parts = append(parts, formatStock(s))
	}
	return strings.Join(parts, listSeparator)
}

func formatStock(s model.TrackedStock) string {
	if s.Name == nil || strings.TrimSpace(*s.Name) == "" {
		return s.Symbol
	}
	return s.Symbol + " - " + strings.TrimSpace(*s.Name)
}

// RenderEmail builds the digest email for the given address.
func RenderEmail(to string, stocks []model.TrackedStock) (email.Message, error) {
	text := FormatStockList(stocks)
	if len(stocks) > 0 {
		text = emailListLabel + text
	}

	data := struct{ Stocks []emailStock }{}
	for _, s := range stocks {
		name := ""
		if s.Name != nil {
			name = strings.TrimSpace(*s.Name)
		}
		data.Stocks = append(data.Stocks, emailStock{Symbol: s.Symbol, Name: name})
	}

	var html bytes.Buffer
	if err := emailTemplate.Execute(&html, data); err != nil {
		return email.Message{}, err
	}

	return email.Message{
		To:       to,
		Subject:  EmailSubject,
		TextBody: text,
		HTMLBody: html.String(),
	}, nil
}

// RenderSMS builds the digest text, at most sms.MaxLength characters. An over-long
// list is cut at the last ", " that leaves room for "...".
func RenderSMS(stocks []model.TrackedStock) string {
	prefix := ""
	if len(stocks) > 0 {
		prefix = smsPrefix
	}
	list := []rune(FormatStockList(stocks))
	room := sms.MaxLength - len([]rune(prefix)) - len([]rune(smsOptOut))

	if len(list) > room {
		limit := room - len([]rune(ellipsis))
		cut := lastSeparator(list, limit)
		if cut > 0 {
			list = append(list[:cut:cut], []rune(ellipsis)...)
		} else {
			list = append(list[:limit:limit], []rune(ellipsis)...)
		}
	}
	return prefix + string(list) + smsOptOut
}

// lastSeparator returns the index of the last ", " starting at or before limit, or -1.
func lastSeparator(list []rune, limit int) int {
	sep := []rune(listSeparator)
	if limit > len(list)-len(sep) {
		limit = len(list) - len(sep)
	}
	for i := limit; i >= 0; i-- {
		if list[i] == sep[0] && list[i+1] == sep[1] {
			return i
		}
	}
	return -1
}
