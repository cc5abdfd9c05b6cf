package sms

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"
)

// ComputeSignature reproduces Twilio's X-Twilio-Signature: HMAC-SHA1 keyed with the
// auth token over the full request URL followed by every POST parameter, sorted by
// name, as name+value.
func ComputeSignature(authToken, requestURL string, params url.Values) string {
	var b strings.Builder
	b.WriteString(requestURL)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		values := append([]string(nil), params[k]...)
		sort.Strings(values)
		for _, v := range values {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidateSignature compares in constant time.
func ValidateSignature(authToken, signature, requestURL string, params url.Values) bool {
	if authToken == "" || signature == "" {
		return false
	}
	expected := ComputeSignature(authToken, requestURL, params)
	return hmac.Equal([]byte(expected), []byte(signature))
}
