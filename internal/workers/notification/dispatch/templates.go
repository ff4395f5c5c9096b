package dispatch

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"

	"forum-comms/internal/models"
)

// TemplateData feeds the email templates.
type TemplateData struct {
	RecipientName string
	StartupName   string
	SenderName    string
	ProfileURL    string
}

type Email struct {
	Subject string
	Text    string
	HTML    string
}

type emailTemplate struct {
	subject string
	line    string
}

var emailTemplates = map[models.NotificationType]emailTemplate{
	models.TypeFollow: {
		subject: "Forum: New Follower",
		line:    "Another investor has started following you.",
	},
	models.TypeUpdate: {
		subject: "Forum: Startup Profile Update",
		line:    "Startup Profile [{{.StartupName}}] you are following has new updates.",
	},
	models.TypeMessage: {
		subject: "Forum: New Message",
		line:    "You have a new message from {{.SenderName}}.",
	},
}

const textLayout = `Hello, {{.Data.RecipientName}}

{{.Line}}
{{if .Data.ProfileURL}}
View profile: {{.Data.ProfileURL}}
{{end}}
Thank you for choosing Forum!
`

const htmlLayout = `<html><body>
<p>Hello, {{.Data.RecipientName}}</p>
<p>{{.Line}}</p>
{{if .Data.ProfileURL}}<p><a href="{{.Data.ProfileURL}}">View profile</a></p>{{end}}
<p>Thank you for choosing Forum!</p>
</body></html>`

var (
	textTmpl = texttemplate.Must(texttemplate.New("text").Parse(textLayout))
	htmlTmpl = htmltemplate.Must(htmltemplate.New("html").Parse(htmlLayout))
)

type layoutData struct {
	Data TemplateData
	Line string
}

// RenderEmail builds subject, text and HTML bodies for a notification type.
// The body line is rendered as text first; the HTML layout escapes it.
func RenderEmail(t models.NotificationType, data TemplateData) (*Email, error) {
	tpl, ok := emailTemplates[t]
	if !ok {
		return nil, fmt.Errorf("no email template for %s", t)
	}

	lineTmpl, err := texttemplate.New("line").Parse(tpl.line)
	if err != nil {
		return nil, fmt.Errorf("parse %s line: %w", t, err)
	}
	var line bytes.Buffer
	if err := lineTmpl.Execute(&line, data); err != nil {
		return nil, fmt.Errorf("render %s line: %w", t, err)
	}

	ld := layoutData{Data: data, Line: line.String()}
	var text, html bytes.Buffer
	if err := textTmpl.Execute(&text, ld); err != nil {
		return nil, fmt.Errorf("render %s text: %w", t, err)
	}
	if err := htmlTmpl.Execute(&html, ld); err != nil {
		return nil, fmt.Errorf("render %s html: %w", t, err)
	}

	return &Email{Subject: tpl.subject, Text: text.String(), HTML: html.String()}, nil
}
