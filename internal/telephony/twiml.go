package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// Response is a minimal TwiML document builder covering the verbs the
// signaling layer needs. It avoids any provider SDK dependency.
type Response struct {
	verbs []any
	err   error
}

func NewResponse() *Response { return &Response{} }

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type twimlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

type twimlRedirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

type twimlReject struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlDial struct {
	XMLName  xml.Name `xml:"Dial"`
	CallerID string   `xml:"callerId,attr,omitempty"`
	Timeout  int      `xml:"timeout,attr,omitempty"`
	Numbers  []string `xml:"Number,omitempty"`
	Clients  []string `xml:"Client,omitempty"`
	Sips     []string `xml:"Sip,omitempty"`
}

// Dial bridges the live session to one or more targets, rung together.
type Dial struct {
	CallerID string
	// Timeout is seconds to ring before giving up; 0 leaves the carrier default.
	Timeout int
	Targets []string
}

func (r *Response) Say(voice, text string) *Response {
	r.verbs = append(r.verbs, twimlSay{Voice: voice, Text: text})
	return r
}

func (r *Response) Pause(seconds int) *Response {
	if seconds < 1 {
		seconds = 1
	}
	r.verbs = append(r.verbs, twimlPause{Length: seconds})
	return r
}

func (r *Response) Redirect(url string) *Response {
	if strings.TrimSpace(url) == "" {
		r.fail(errors.New("telephony: redirect url required"))
		return r
	}
	r.verbs = append(r.verbs, twimlRedirect{Method: "POST", URL: url})
	return r
}

// Dial adds a Dial verb. Targets starting with "sip:" become Sip nouns,
// "client:" prefixed ones become Client nouns, everything else a Number.
func (r *Response) Dial(d Dial) *Response {
	out := twimlDial{CallerID: d.CallerID, Timeout: d.Timeout}
	for _, t := range d.Targets {
		t = strings.TrimSpace(t)
		lower := strings.ToLower(t)
		switch {
		case t == "":
		case strings.HasPrefix(lower, "sip:"):
			out.Sips = append(out.Sips, t)
		case strings.HasPrefix(lower, "client:"):
			out.Clients = append(out.Clients, t[len("client:"):])
		default:
			out.Numbers = append(out.Numbers, t)
		}
	}
	if len(out.Numbers)+len(out.Clients)+len(out.Sips) == 0 {
		r.fail(errors.New("telephony: dial target required"))
		return r
	}
	r.verbs = append(r.verbs, out)
	return r
}

func (r *Response) Reject(reason string) *Response {
	r.verbs = append(r.verbs, twimlReject{Reason: reason})
	return r
}

func (r *Response) Hangup() *Response {
	r.verbs = append(r.verbs, twimlHangup{})
	return r
}

func (r *Response) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// Render encodes the document. It fails if any builder step was invalid.
func (r *Response) Render() (string, error) {
	if r.err != nil {
		return "", r.err
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(twimlResponse{Verbs: r.verbs}); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTwiML is served when rendering itself fails.
const fallbackTwiML = xml.Header + `<Response>
  <Say>We are sorry, an error occurred. Goodbye.</Say>
  <Hangup></Hangup>
</Response>`
