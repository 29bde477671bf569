package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/serp-monitor/internal/config"
	"github.com/sells-group/serp-monitor/internal/model"
)

var changeTmpl = template.Must(template.New("change").Parse(`<html><body>
{{if eq .Kind "critical_drop"}}<h2 style="color: red;">Critical position drop</h2>{{else}}<h2>Position change</h2>{{end}}
<p><strong>Query:</strong> {{.Query}}</p>
<p><strong>Domain:</strong> {{.Domain}}</p>
<p><strong>URL:</strong> <a href="{{.URL}}">{{.URL}}</a></p>
<p><strong>Position:</strong> #{{.OldPosition}} &rarr; #{{.NewPosition}} ({{if gt .Change 0}}+{{end}}{{.Change}})</p>
</body></html>`))

var digestTmpl = template.Must(template.New("digest").Funcs(template.FuncMap{
	"inc":  func(i int) int { return i + 1 },
	"avg1": func(f float64) string { return strconv.FormatFloat(f, 'f', 1, 64) },
}).Parse(`<html><body>
<h2>Daily search summary - {{.Date}}</h2>
<p>Total searches: <strong>{{.TotalSearches}}</strong></p>
<p>Unique links: <strong>{{.UniqueLinks}}</strong></p>
<h3>Most visible links</h3>
<table border="1" cellpadding="4" cellspacing="0">
<tr><th>#</th><th>Domain</th><th>Avg. position</th><th>Appearances</th></tr>
{{range $i, $l := .TopLinks}}<tr><td>{{inc $i}}</td><td>{{$l.Domain}}</td><td>#{{avg1 $l.AveragePosition}}</td><td>{{$l.TotalAppearances}}</td></tr>
{{end}}</table>
</body></html>`))

// SendMailFunc matches smtp.SendMail.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email sends HTML mails over SMTP.
type Email struct {
	cfg      config.EmailConfig
	sendMail SendMailFunc
}

// NewEmail creates an Email sink that delivers through smtp.SendMail.
func NewEmail(cfg config.EmailConfig) *Email {
	return &Email{cfg: cfg, sendMail: smtp.SendMail}
}

func (e *Email) NotifyChange(_ context.Context, ev model.ChangeEvent) error {
	subject := fmt.Sprintf("Position change: %s (%+d)", ev.Domain, ev.Change)
	if ev.Kind == model.ChangeCriticalDrop {
		subject = fmt.Sprintf("CRITICAL: %s dropped %d positions", ev.Domain, ev.Change)
	}
	var body bytes.Buffer
	if err := changeTmpl.Execute(&body, ev); err != nil {
		return eris.Wrap(err, "notify: render change email")
	}
	return e.send(subject, body.Bytes())
}

func (e *Email) NotifyDigest(_ context.Context, d model.Digest) error {
	var body bytes.Buffer
	if err := digestTmpl.Execute(&body, d); err != nil {
		return eris.Wrap(err, "notify: render digest email")
	}
	return e.send(fmt.Sprintf("Daily search summary (%s)", d.Date), body.Bytes())
}

func (e *Email) send(subject string, html []byte) error {
	if len(e.cfg.Recipients) == 0 {
		return eris.New("notify: email has no recipients")
	}

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}
	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))

	if err := e.sendMail(addr, auth, e.cfg.From, e.cfg.Recipients, buildMessage(e.cfg.From, e.cfg.Recipients, subject, html)); err != nil {
		return eris.Wrapf(err, "notify: send email %q", subject)
	}
	return nil
}

func buildMessage(from string, to []string, subject string, html []byte) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	b.Write(html)
	return b.Bytes()
}
