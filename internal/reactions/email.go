/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package reactions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"text/template"
	"time"

	"golang.org/x/time/rate"

	"github.com/sentinela-project/sentinela/internal/config"
	"github.com/sentinela-project/sentinela/internal/models"
)

// smtpSendMail is swapped out in tests.
var smtpSendMail = smtp.SendMail

// EmailNotifier mails alert notes through an SMTP relay.
type EmailNotifier struct {
	addr            string
	auth            smtp.Auth
	from            string
	to              []string
	subjectTemplate *template.Template
	bodyTemplate    *template.Template
	limiter         *rate.Limiter
}

// NewEmailNotifier builds the email channel from its config.
func NewEmailNotifier(cfg config.EmailNotifierConfig) (*EmailNotifier, error) {
	if cfg.SMTPHost == "" {
		return nil, errors.New("email smtp host is required")
	}
	if cfg.From == "" {
		return nil, errors.New("email sender address is required")
	}
	if len(cfg.To) == 0 {
		return nil, errors.New("email needs at least one recipient")
	}

	port := cfg.SMTPPort
	if port == 0 {
		port = 587
	}

	subjectStr := defaultEmailSubjectTemplate
	if cfg.SubjectTemplate != "" {
		subjectStr = cfg.SubjectTemplate
	}
	subjectTmpl, err := template.New("subject").Funcs(templateFuncs).Parse(subjectStr)
	if err != nil {
		return nil, fmt.Errorf("invalid email subject template: %w", err)
	}

	bodyStr := defaultEmailBodyTemplate
	if cfg.BodyTemplate != "" {
		bodyStr = cfg.BodyTemplate
	}
	bodyTmpl, err := template.New("body").Funcs(templateFuncs).Parse(bodyStr)
	if err != nil {
		return nil, fmt.Errorf("invalid email body template: %w", err)
	}

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.SMTPHost)
	}

	return &EmailNotifier{
		addr:            fmt.Sprintf("%s:%d", cfg.SMTPHost, port),
		auth:            auth,
		from:            cfg.From,
		to:              cfg.To,
		subjectTemplate: subjectTmpl,
		bodyTemplate:    bodyTmpl,
		limiter:         newLimiter(cfg.MaxPerHour, cfg.Burst),
	}, nil
}

// Name returns the channel name
func (e *EmailNotifier) Name() string {
	return "email"
}

// Send delivers a note by email
func (e *EmailNotifier) Send(_ context.Context, note Note) error {
	if !e.limiter.Allow() {
		return rateLimitError(e.Name())
	}

	var subjectBuf, bodyBuf bytes.Buffer
	if err := e.subjectTemplate.Execute(&subjectBuf, note); err != nil {
		return fmt.Errorf("rendering email subject: %w", err)
	}
	if err := e.bodyTemplate.Execute(&bodyBuf, note); err != nil {
		return fmt.Errorf("rendering email body: %w", err)
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", e.from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(e.to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subjectBuf.String())
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(bodyBuf.String())

	if err := smtpSendMail(e.addr, e.auth, e.from, e.to, []byte(msg.String())); err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	return nil
}

// Test sends a test note
func (e *EmailNotifier) Test(ctx context.Context) error {
	return e.Send(ctx, Note{
		EventName: "test",
		Monitor:   "sentinela.test",
		Priority:  models.PriorityInformational,
		Timestamp: time.Now(),
	})
}

var defaultEmailSubjectTemplate = `[{{ upper (printf "%s" .Priority) }}] {{ .Monitor }} alert #{{ .AlertID }}`

var defaultEmailBodyTemplate = `Sentinela Alert

Monitor: {{ .Monitor }}
Event: {{ .EventName }}
Alert: #{{ .AlertID }}
Priority: {{ .Priority }}
Time: {{ formatTime .Timestamp "RFC3339" }}
{{ if .Data }}
{{ toJson .Data }}
{{ end }}
--
Sentinela
`
