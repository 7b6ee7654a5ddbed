package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"voicebridge/pkg/logger"

	"github.com/gin-gonic/gin"
)

const SignatureHeader = "X-Twilio-Signature"

// ComputeSignature implements Twilio's request signing: HMAC-SHA1 over the
// full URL followed by every POST parameter name and value, names sorted.
func ComputeSignature(authToken, fullURL string, params url.Values) string {
	var b strings.Builder
	b.WriteString(fullURL)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range params[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func ValidSignature(authToken, fullURL string, params url.Values, signature string) bool {
	if signature == "" {
		return false
	}
	want := ComputeSignature(authToken, fullURL, params)
	return hmac.Equal([]byte(want), []byte(signature))
}

// RequireSignature rejects webhook requests that are not signed with
// authToken. publicBaseURL is the externally visible origin the carrier
// signed against (proxies rewrite Host).
func RequireSignature(authToken, publicBaseURL string) gin.HandlerFunc {
	publicBaseURL = strings.TrimRight(publicBaseURL, "/")
	return func(c *gin.Context) {
		if err := c.Request.ParseForm(); err != nil {
			logger.FromGin(c).Warn("webhook form parse failed", "err", err)
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		full := publicBaseURL + c.Request.URL.RequestURI()
		if !ValidSignature(authToken, full, c.Request.PostForm, c.GetHeader(SignatureHeader)) {
			logger.FromGin(c).Warn("webhook signature mismatch", "path", c.FullPath())
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}
