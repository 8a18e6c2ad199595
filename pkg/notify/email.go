package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	htmltemplate "html/template"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"text/template"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medref/internal/config"
)

var referralText = template.Must(template.New("referral.txt").Parse(
	`Dear Doctor,

You have received a new patient referral from Dr. {{.ReferringDoctorName}}.

Referral ID: {{.ReferralID}}
Patient Name: {{.PatientName}}
Urgency: {{.Urgency}}

Reason for Referral:
{{.ReasonForReferral}}

Please log in to the referral portal to view the complete patient information and provide your consultation.
{{if .PortalURL}}{{.PortalURL}}
{{end}}
This is an automated message. Please do not reply to this email.
`))

var referralHTML = htmltemplate.Must(htmltemplate.New("referral.html").Parse(`<!DOCTYPE html>
<html>
<head>
<style>
body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
.container { max-width: 600px; margin: 0 auto; padding: 20px; }
.header { background-color: #006E3B; color: white; padding: 10px 20px; }
.content { padding: 20px; background-color: #f9f9f9; }
.footer { font-size: 12px; color: #777; padding: 10px 20px; text-align: center; }
table { width: 100%; border-collapse: collapse; }
th, td { padding: 8px; text-align: left; border-bottom: 1px solid #ddd; }
.priority-high { color: #D32F2F; font-weight: bold; }
.priority-medium { color: #F57C00; font-weight: bold; }
.priority-normal { color: #388E3C; }
</style>
</head>
<body>
<div class="container">
<div class="header"><h2>Medical Referral Notification</h2></div>
<div class="content">
<p>Dear Doctor,</p>
<p>You have received a new patient referral from Dr. {{.ReferringDoctorName}}.</p>
<table>
<tr><th>Referral ID</th><td>{{.ReferralID}}</td></tr>
<tr><th>Patient Name</th><td>{{.PatientName}}</td></tr>
<tr><th>Urgency</th><td class="priority-{{.UrgencyClass}}">{{.Urgency}}</td></tr>
</table>
<p>Reason for Referral:</p>
<p>{{.ReasonForReferral}}</p>
<p>Please log in to the referral portal{{if .PortalURL}} at <a href="{{.PortalURL}}">{{.PortalURL}}</a>{{end}} to view the complete patient information and provide your consultation.</p>
</div>
<div class="footer">
<p>This is an automated message. Please do not reply to this email.</p>
<p>&copy; {{.Year}} Doctor Referral System</p>
</div>
</div>
</body>
</html>
`))

var consultationText = template.Must(template.New("consultation.txt").Parse(
	`Dear Dr. {{.ReferringDoctorName}},

A consultation response has been submitted by Dr. {{.ConsultingDoctorName}} for your referral.

Referral ID: {{.ReferralID}}
Patient Name: {{.PatientName}}
Status: {{.Status}}
{{if .AdditionalInfoNeeded}}
Additional Information Needed:
{{.AdditionalInfoNeeded}}
{{end}}
Please log in to the referral portal to view the complete consultation details.
{{if .PortalURL}}{{.PortalURL}}
{{end}}
This is an automated message. Please do not reply to this email.
`))

var consultationHTML = htmltemplate.Must(htmltemplate.New("consultation.html").Parse(`<!DOCTYPE html>
<html>
<head>
<style>
body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
.container { max-width: 600px; margin: 0 auto; padding: 20px; }
.header { background-color: #006E3B; color: white; padding: 10px 20px; }
.content { padding: 20px; background-color: #f9f9f9; }
.footer { font-size: 12px; color: #777; padding: 10px 20px; text-align: center; }
table { width: 100%; border-collapse: collapse; }
th, td { padding: 8px; text-align: left; border-bottom: 1px solid #ddd; }
.status-completed { color: #388E3C; font-weight: bold; }
.status-inprogress { color: #2196F3; font-weight: bold; }
.status-additional { color: #9C27B0; font-weight: bold; }
</style>
</head>
<body>
<div class="container">
<div class="header"><h2>Consultation Response</h2></div>
<div class="content">
<p>Dear Dr. {{.ReferringDoctorName}},</p>
<p>A consultation response has been submitted by Dr. {{.ConsultingDoctorName}} for your referral.</p>
<table>
<tr><th>Referral ID</th><td>{{.ReferralID}}</td></tr>
<tr><th>Patient Name</th><td>{{.PatientName}}</td></tr>
<tr><th>Status</th><td class="status-{{.StatusClass}}">{{.Status}}</td></tr>
</table>
{{if .AdditionalInfoNeeded}}<p><strong>Additional Information Needed:</strong></p>
<p>{{.AdditionalInfoNeeded}}</p>{{end}}
<p>Please log in to the referral portal{{if .PortalURL}} at <a href="{{.PortalURL}}">{{.PortalURL}}</a>{{end}} to view the complete consultation details.</p>
</div>
<div class="footer">
<p>This is an automated message. Please do not reply to this email.</p>
<p>&copy; {{.Year}} Doctor Referral System</p>
</div>
</div>
</body>
</html>
`))

type referralView struct {
	ReferralNotice
	UrgencyClass string
	PortalURL    string
	Year         int
}

type consultationView struct {
	ConsultationNotice
	StatusClass string
	PortalURL   string
	Year        int
}

func urgencyClass(urgency string) string {
	switch urgency {
	case "Emergency":
		return "high"
	case "Urgent":
		return "medium"
	}
	return "normal"
}

func statusClass(status string) string {
	switch status {
	case "Completed":
		return "completed"
	case "In Progress":
		return "inprogress"
	}
	return "additional"
}

// Email is a rendered message ready to send.
type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

type sendFunc func(ctx context.Context, to string, msg []byte) error

// EmailNotifier sends multipart (plain text and HTML) emails over SMTP with
// STARTTLS and PLAIN auth.
type EmailNotifier struct {
	cfg       config.SMTPConfig
	portalURL string
	now       func() time.Time
	send      sendFunc
}

func NewEmailNotifier(cfg config.SMTPConfig, portalURL string) *EmailNotifier {
	n := &EmailNotifier{cfg: cfg, portalURL: portalURL, now: time.Now}
	n.send = n.deliver
	return n
}

func (n *EmailNotifier) NotifyReferralCreated(ctx context.Context, rn ReferralNotice) error {
	email, err := n.RenderReferral(rn)
	if err != nil {
		return err
	}
	return n.sendEmail(ctx, email)
}

func (n *EmailNotifier) NotifyConsultationSubmitted(ctx context.Context, cn ConsultationNotice) error {
	email, err := n.RenderConsultation(cn)
	if err != nil {
		return err
	}
	return n.sendEmail(ctx, email)
}

func (n *EmailNotifier) RenderReferral(rn ReferralNotice) (*Email, error) {
	view := referralView{
		ReferralNotice: rn,
		UrgencyClass:   urgencyClass(rn.Urgency),
		PortalURL:      n.portalURL,
		Year:           n.now().Year(),
	}
	return render(rn.RecipientEmail, "New Medical Referral: "+rn.ReferralID, referralText, referralHTML, view)
}

func (n *EmailNotifier) RenderConsultation(cn ConsultationNotice) (*Email, error) {
	if cn.Status != "Requires Additional Information" {
		cn.AdditionalInfoNeeded = ""
	}
	view := consultationView{
		ConsultationNotice: cn,
		StatusClass:        statusClass(cn.Status),
		PortalURL:          n.portalURL,
		Year:               n.now().Year(),
	}
	return render(cn.RecipientEmail, "Consultation Response for Referral: "+cn.ReferralID, consultationText, consultationHTML, view)
}

func render(to, subject string, text *template.Template, html *htmltemplate.Template, data any) (*Email, error) {
	var tb, hb bytes.Buffer
	if err := text.Execute(&tb, data); err != nil {
		return nil, fmt.Errorf("rendering %s: %w", text.Name(), err)
	}
	if err := html.Execute(&hb, data); err != nil {
		return nil, fmt.Errorf("rendering %s: %w", html.Name(), err)
	}
	return &Email{To: to, Subject: subject, Text: tb.String(), HTML: hb.String()}, nil
}

func (n *EmailNotifier) sendEmail(ctx context.Context, e *Email) error {
	msg, err := buildMessage(n.cfg.From, e)
	if err != nil {
		return err
	}
	if err := n.send(ctx, e.To, msg); err != nil {
		return fmt.Errorf("sending email to %s: %w", e.To, err)
	}
	return nil
}

// buildMessage encodes a multipart/alternative MIME message.
func buildMessage(from string, e *Email) ([]byte, error) {
	if strings.ContainsAny(e.To, "\r\n") || strings.ContainsAny(from, "\r\n") {
		return nil, fmt.Errorf("invalid address header")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=UTF-8", e.Text},
		{"text/html; charset=UTF-8", e.HTML},
	}
	for _, p := range parts {
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, fmt.Errorf("creating MIME part: %w", err)
		}
		if _, err := w.Write([]byte(p.content)); err != nil {
			return nil, fmt.Errorf("writing MIME part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing MIME writer: %w", err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", e.To)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", e.Subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n", mw.Boundary())
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())

	return msg.Bytes(), nil
}

func (n *EmailNotifier) deliver(ctx context.Context, to string, msg []byte) error {
	dialer := net.Dialer{Timeout: n.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", n.cfg.Address())
	if err != nil {
		return fmt.Errorf("dialing smtp server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: n.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if n.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(n.cfg.From); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("smtp RCPT TO: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finishing message: %w", err)
	}

	return c.Quit()
}
