package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"
)

// slackPoster delivers chat messages via the Slack chat.postMessage API.
type slackPoster struct {
	httpClient *http.Client
	token      string
}

func newSlackPoster(token string) *slackPoster {
	return &slackPoster{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		token:      token,
	}
}

// Post implements notify.ChatPoster.
func (p *slackPoster) Post(ctx context.Context, target, text string) error {
	payload, err := json.Marshal(map[string]string{
		"channel": target,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://slack.com/api/chat.postMessage", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post to Slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API returned status %d", resp.StatusCode)
	}
	return nil
}

// smtpSender delivers mail through a plain SMTP relay.
type smtpSender struct {
	addr string
	from string
}

func newSMTPSender(addr, from string) *smtpSender {
	if from == "" {
		from = "review-reminder@localhost"
	}
	return &smtpSender{addr: addr, from: from}
}

// Send implements notify.MailSender.
func (s *smtpSender) Send(_ context.Context, to, subject, body string) error {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("\r\n")
	msg.WriteString(body)

	if err := smtp.SendMail(s.addr, nil, s.from, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("failed to send mail via %s: %w", s.addr, err)
	}
	return nil
}
