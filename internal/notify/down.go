package notify

import (
	"context"
	"errors"
	"net/mail"
	"strconv"
	"strings"
	"text/template"

	"github.com/hamed0406/uptimemonitor/internal/domain"
)

const (
	DefaultFrom     = "do-not-reply@example.com"
	DefaultFromName = "Uptime Monitor"

	checkedAtLayout = "2006-01-02 15:04:05"
)

var downTmpl = template.Must(template.New("website-down").Parse(`{{.URL}} is down!

Your website {{.URL}} is currently unreachable.

Details:
- Website: {{.URL}}
- Time checked: {{.CheckedAt}}
{{if .StatusCode}}- Status Code: {{.StatusCode}}
{{end}}{{if .Error}}- Error: {{.Error}}
{{end}}{{if .ResponseTime}}- Response Time: {{.ResponseTime}}ms
{{end}}
We will continue monitoring your website and notify you when it's back online.

--
{{.Signature}}
`))

type downView struct {
	URL          string
	CheckedAt    string
	StatusCode   string
	Error        string
	ResponseTime string
	Signature    string
}

// DownNotifier emails a client when one of its endpoints goes down.
type DownNotifier struct {
	Mailer   Mailer
	From     string
	FromName string
}

func NewDownNotifier(m Mailer, from, fromName string) *DownNotifier {
	if from == "" {
		from = DefaultFrom
	}
	if fromName == "" {
		fromName = DefaultFromName
	}
	return &DownNotifier{Mailer: m, From: from, FromName: fromName}
}

// Subject is the subject line used for every downtime email.
func Subject(url string) string {
	return url + " is down!"
}

// Message renders the downtime email without sending it.
func (n *DownNotifier) Message(to string, ep *domain.Endpoint, check *domain.CheckRecord) (Message, error) {
	v := downView{
		URL:       ep.URL,
		CheckedAt: check.CheckedAt.Format(checkedAtLayout),
		Signature: n.FromName,
	}
	if check.StatusCode != nil {
		v.StatusCode = strconv.Itoa(*check.StatusCode)
	}
	if check.ErrorMessage != nil {
		v.Error = *check.ErrorMessage
	}
	if check.ResponseTimeMS != nil {
		v.ResponseTime = strconv.FormatInt(*check.ResponseTimeMS, 10)
	}

	var body strings.Builder
	if err := downTmpl.Execute(&body, v); err != nil {
		return Message{}, err
	}
	from := (&mail.Address{Name: n.FromName, Address: n.From}).String()
	return Message{From: from, To: to, Subject: Subject(ep.URL), Body: body.String()}, nil
}

// Notify hands the email to the mailer. Delivery errors are returned as-is
// so the caller can retry.
func (n *DownNotifier) Notify(ctx context.Context, to string, ep *domain.Endpoint, check *domain.CheckRecord) error {
	if to == "" {
		return errors.New("no recipient")
	}
	msg, err := n.Message(to, ep, check)
	if err != nil {
		return err
	}
	return n.Mailer.Send(ctx, msg)
}
