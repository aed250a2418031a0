// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

// Package mail delivers rendered report documents over SMTP with bounded
// retry on transient failures and a local fallback artifact on exhaustion.
package mail

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/telekom/change-report/pkg/config"
	"github.com/telekom/change-report/pkg/outcome"
	"github.com/telekom/change-report/pkg/secrets"
)

const (
	// defaultRetryCount is the number of additional attempts after the
	// first transient failure.
	defaultRetryCount = 2
	// defaultRetryDelay is the fixed pause between attempts. The source
	// policy is deliberately not exponential.
	defaultRetryDelay = 5 * time.Second
	// sendTimeout bounds one dial-and-send cycle.
	sendTimeout = 30 * time.Second
	// fallbackArtifact names the undelivered-body file in the log sink.
	fallbackArtifact = "undelivered-report"
)

// ErrNoRecipients is returned when the recipient list is empty after blank
// entries are filtered. Never retried.
var ErrNoRecipients = errors.New("no valid recipients configured")

// errAttemptTimeout marks an attempt aborted by the local send timeout.
var errAttemptTimeout = errors.New("smtp send timed out")

// Dialer is the transport seam; gomail.Dialer satisfies it in production and
// tests script failures through it.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// ArtifactWriter persists the undelivered body; the logging sink satisfies it.
type ArtifactWriter interface {
	WriteArtifact(name string, data []byte) (string, error)
}

// Sender delivers one HTML document per Send call. Each attempt dials a
// fresh connection; gomail tears the connection down on every exit path.
type Sender struct {
	dialer     Dialer
	from       string
	recipients []string
	retryCount int
	retryDelay time.Duration
	timeout    time.Duration
	artifacts  ArtifactWriter
	sleep      func(time.Duration)
	log        *zap.SugaredLogger
}

// NewSender builds a sender from the mail descriptor. Authentication is
// resolved in order, first match wins: a credential handle yields
// credentialed auth, a bare username yields username-only auth, and
// neither yields an anonymous transport.
func NewSender(cfg config.EmailConfig, resolver secrets.Resolver, artifacts ArtifactWriter, log *zap.SugaredLogger) (*Sender, error) {
	username := cfg.Username
	password := ""
	if username != "" && cfg.EncryptedPassword != "" {
		revealed, err := resolver.Reveal(cfg.EncryptedPassword)
		if err != nil {
			return nil, outcome.Wrap(outcome.Email, fmt.Errorf("resolving SMTP credential: %w", err))
		}
		password = revealed
	}

	d := gomail.NewDialer(cfg.SMTPServer, cfg.Port, username, password)
	if cfg.EnableSSL {
		// Port 465 is implicit TLS; anything else negotiates STARTTLS.
		d.SSL = cfg.Port == 465
		d.TLSConfig = &tls.Config{ServerName: cfg.SMTPServer}
	}

	log.Infow("Mail sender initialized",
		"host", cfg.SMTPServer, "port", cfg.Port, "ssl", cfg.EnableSSL,
		"authenticated", username != "", "recipients", len(cfg.Recipients()))

	return &Sender{
		dialer:     d,
		from:       cfg.From,
		recipients: cfg.Recipients(),
		retryCount: defaultRetryCount,
		retryDelay: defaultRetryDelay,
		timeout:    sendTimeout,
		artifacts:  artifacts,
		sleep:      time.Sleep,
		log:        log.Named("mail"),
	}, nil
}

// Send delivers the document. Transient failures are retried up to
// retryCount times with a fixed delay; non-transient failures fail
// immediately. On final failure the body is persisted as a fallback artifact
// (best-effort) and a classified error is returned.
func (s *Sender) Send(subject, body string) error {
	if len(s.recipients) == 0 {
		return outcome.Wrap(outcome.Email, ErrNoRecipients)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", s.from)
	msg.SetHeader("To", s.recipients...)
	msg.SetHeader("Subject", subject)
	msg.SetHeader("X-Priority", "3 (Normal)")
	msg.SetBody("text/html", body)

	var lastErr error
	for attempt := 0; attempt <= s.retryCount; attempt++ {
		err := s.attempt(msg)
		if err == nil {
			s.log.Infow("Mail delivered", "recipients", len(s.recipients), "attempt", attempt+1)
			return nil
		}
		lastErr = err
		if !Transient(err) {
			s.log.Errorw("Mail delivery failed permanently, not retrying", "error", err, "attempt", attempt+1)
			break
		}
		if attempt < s.retryCount {
			s.log.Warnw("Mail delivery failed, retrying", "error", err, "attempt", attempt+1, "delay", s.retryDelay)
			s.sleep(s.retryDelay)
		} else {
			s.log.Errorw("Mail delivery failed after all attempts", "error", err, "attempts", attempt+1)
		}
	}

	s.writeFallback(body)
	return outcome.Wrap(outcome.Email, fmt.Errorf("sending report mail: %w", lastErr))
}

// attempt runs one dial-and-send cycle under the send timeout. On timeout
// the in-flight goroutine finishes in the background; its connection is torn
// down by gomail when the send returns.
func (s *Sender) attempt(msg *gomail.Message) error {
	done := make(chan error, 1)
	go func() { done <- s.dialer.DialAndSend(msg) }()
	select {
	case err := <-done:
		return err
	case <-time.After(s.timeout):
		return errAttemptTimeout
	}
}

// writeFallback persists the undelivered body into the log sink. Best-effort:
// a failure here is logged as a warning and never masks the delivery error.
func (s *Sender) writeFallback(body string) {
	if s.artifacts == nil {
		return
	}
	path, err := s.artifacts.WriteArtifact(fallbackArtifact, []byte(body))
	if err != nil {
		s.log.Warnw("Failed to persist undelivered report body", "error", err)
		return
	}
	s.log.Infow("Undelivered report body persisted", "path", path)
}

// Transient reports whether a delivery error is likely to succeed on an
// immediate retry. Timeouts, connection-level failures and SMTP 4xx replies
// are transient; SMTP 5xx replies (bad address, auth rejected, policy) are
// definitional and fail the send immediately.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errAttemptTimeout) {
		return true
	}
	var smtpErr *textproto.Error
	if errors.As(err, &smtpErr) {
		return smtpErr.Code >= 400 && smtpErr.Code < 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	// gomail wraps some connection errors into plain strings; recognize the
	// common reset/refused cases without classifying anything else by text.
	msg := err.Error()
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused")
}

// WithRetryPolicy overrides the retry parameters. Used by tests and kept
// separate from NewSender so the production policy stays fixed.
func (s *Sender) WithRetryPolicy(count int, delay time.Duration) *Sender {
	s.retryCount = count
	s.retryDelay = delay
	return s
}
