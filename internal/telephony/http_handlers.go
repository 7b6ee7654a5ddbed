package telephony

import (
	"net/http"
	"strings"
	"time"

	"voicebridge/pkg/logger"

	"github.com/gin-gonic/gin"
)

// WebhookHandler adapts carrier webhooks to the Responder.
//
// Every endpoint answers 200 with a TwiML document, including on bad input
// or internal failure: the carrier is waiting on this response to decide
// what the live session does next.
type WebhookHandler struct {
	Responder *Responder

	Now func() time.Time
}

func (h WebhookHandler) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now().UTC()
}

// Register mounts the handlers on a group rooted at /webhooks/voice.
func (h WebhookHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/incoming", h.Incoming)
	rg.POST("/status-check/:call_sid", h.StatusCheck)
	rg.POST("/outbound-answer", h.OutboundAnswer)
	rg.POST("/status", h.Status)
	rg.POST("/reject", h.Reject)
}

func (h WebhookHandler) Incoming(c *gin.Context) {
	h.serve(c, func(form VoiceForm) *Response {
		return h.Responder.Incoming(c.Request.Context(), form.InboundCall())
	})
}

func (h WebhookHandler) StatusCheck(c *gin.Context) {
	h.serve(c, func(form VoiceForm) *Response {
		id := strings.TrimSpace(c.Param("call_sid"))
		if id == "" {
			id = form.CallSid
		}
		return h.Responder.StatusCheck(c.Request.Context(), id)
	})
}

func (h WebhookHandler) OutboundAnswer(c *gin.Context) {
	h.serve(c, func(form VoiceForm) *Response {
		return h.Responder.OutboundAnswer(c.Request.Context(), form.CallSid)
	})
}

func (h WebhookHandler) Status(c *gin.Context) {
	h.serve(c, func(form VoiceForm) *Response {
		ev, ok := form.StatusEvent(h.now())
		if !ok {
			logger.From(c.Request.Context()).Debug("untracked carrier status", "call_id", form.CallSid, "carrier_status", form.CallStatus)
			return NewResponse()
		}
		return h.Responder.Status(c.Request.Context(), ev)
	})
}

func (h WebhookHandler) Reject(c *gin.Context) {
	h.serve(c, func(form VoiceForm) *Response {
		return h.Responder.Reject(c.Request.Context(), form.CallSid)
	})
}

// serve parses the form, runs fn and writes its TwiML. Parse failures,
// panics and render failures all become a polite hangup.
func (h WebhookHandler) serve(c *gin.Context, fn func(VoiceForm) *Response) {
	log := logger.FromGin(c)

	var resp *Response
	func() {
		defer func() {
			if p := recover(); p != nil {
				log.Error("webhook panic", "path", c.FullPath(), "panic", p)
				resp = nil
			}
		}()

		if h.Responder == nil {
			log.Error("webhook responder not configured")
			return
		}
		form, err := ParseVoiceForm(c.Request)
		if err != nil {
			log.Warn("twilio webhook parse failed", "err", err)
			return
		}
		if form.CallSid != "" {
			logger.Attach(c, log.With("call_sid", form.CallSid))
		}
		resp = fn(form)
	}()

	body := fallbackTwiML
	if resp != nil {
		out, err := resp.Render()
		if err != nil {
			log.Error("twiml render failed", "err", err)
		} else {
			body = out
		}
	}
	c.Data(http.StatusOK, "application/xml; charset=utf-8", []byte(body))
}
