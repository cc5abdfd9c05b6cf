package sms

import (
	"encoding/xml"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/stockalert-api/internal/service/inbound"
	"github.com/jwalitptl/stockalert-api/internal/sms"
	"github.com/jwalitptl/stockalert-api/pkg/errors"
)

const HeaderTwilioSignature = "X-Twilio-Signature"

// twiml is the reply envelope. An empty Message is omitted so the provider sends nothing.
type twiml struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message,omitempty"`
}

// RenderTwiML returns the XML document for reply.
func RenderTwiML(reply string) ([]byte, error) {
	body, err := xml.MarshalIndent(twiml{Message: reply}, "", "\t")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}

type Handler struct {
	inbound   inbound.Service
	authToken string
	// publicURL overrides scheme and host when the service sits behind a proxy.
	publicURL string
}

func NewHandler(inboundSvc inbound.Service, authToken, publicURL string) *Handler {
	return &Handler{
		inbound:   inboundSvc,
		authToken: authToken,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/notifications/sms/inbound", h.Inbound)
}

func (h *Handler) Inbound(c *gin.Context) {
	if h.authToken == "" {
		log.Error().Msg("TWILIO_AUTH_TOKEN is not configured; cannot verify inbound SMS")
		c.String(http.StatusInternalServerError, "Server misconfigured")
		return
	}

	if err := c.Request.ParseForm(); err != nil {
		c.String(http.StatusBadRequest, "Invalid form body")
		return
	}
	params := c.Request.PostForm

	signature := c.GetHeader(HeaderTwilioSignature)
	if signature == "" {
		c.String(http.StatusUnauthorized, "Missing signature")
		return
	}
	if !sms.ValidateSignature(h.authToken, signature, h.requestURL(c), params) {
		log.Warn().Str("client_ip", c.ClientIP()).Msg("Inbound SMS with invalid signature")
		c.String(http.StatusForbidden, "Invalid signature")
		return
	}

	from := strings.TrimSpace(params.Get("From"))
	body := strings.TrimSpace(params.Get("Body"))
	if from == "" || body == "" {
		c.String(http.StatusBadRequest, "Missing parameters")
		return
	}

	reply, err := h.inbound.HandleMessage(c.Request.Context(), from, body)
	switch {
	case errors.Is(err, inbound.ErrInvalidPhone):
		c.String(http.StatusBadRequest, "Invalid phone format")
		return
	case err != nil:
		c.String(http.StatusInternalServerError, "Failed to update preferences")
		return
	}

	doc, err := RenderTwiML(reply)
	if err != nil {
		log.Error().Err(err).Msg("Failed to render TwiML")
		c.String(http.StatusInternalServerError, "Internal server error")
		return
	}
	c.Data(http.StatusOK, "text/xml; charset=utf-8", doc)
}

// requestURL rebuilds the URL the provider signed.
func (h *Handler) requestURL(c *gin.Context) string {
	if h.publicURL != "" {
		return h.publicURL + c.Request.URL.RequestURI()
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.RequestURI()
}
