// Package mailer sends outbound mail through an authenticated SMTP relay.
package mailer

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/example/mammoscan/internal/config"
)

// Mailer delivers OTP codes and report attachments. Credentials are injected
// at construction, not read from process globals.
type Mailer struct {
	cfg      config.SMTPConfig
	logger   *zap.Logger
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// New constructs a mailer for the given relay settings.
func New(cfg config.SMTPConfig, logger *zap.Logger) *Mailer {
	return &Mailer{cfg: cfg, logger: logger.Named("mailer"), sendMail: smtp.SendMail}
}

// SendOTP emails a one-time verification code as plain text.
func (m *Mailer) SendOTP(to, code string) error {
	body := fmt.Sprintf("Your OTP code is %s", code)
	msg := []byte(
		"From: " + m.cfg.From + "\r\n" +
			"To: " + to + "\r\n" +
			"Subject: Your Verification OTP\r\n" +
			"Content-Type: text/plain; charset=\"utf-8\"\r\n" +
			"\r\n" +
			body + "\r\n")
	return m.send(to, msg)
}

// SendReport emails the diagnostic report as a PDF attachment.
func (m *Mailer) SendReport(to, reportPath string) error {
	pdf, err := os.ReadFile(reportPath)
	if err != nil {
		return fmt.Errorf("read report attachment: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: Your Breast Cancer Diagnostic Report\r\n")
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/mixed; boundary=%q\r\n", writer.Boundary())
	fmt.Fprintf(&msg, "\r\n")

	textHeader := textproto.MIMEHeader{}
	textHeader.Set("Content-Type", `text/plain; charset="utf-8"`)
	part, err := writer.CreatePart(textHeader)
	if err != nil {
		return fmt.Errorf("build mail body: %w", err)
	}
	fmt.Fprintf(part, "Please find your diagnostic report attached.\r\n")

	name := filepath.Base(reportPath)
	fileHeader := textproto.MIMEHeader{}
	fileHeader.Set("Content-Type", "application/pdf")
	fileHeader.Set("Content-Transfer-Encoding", "base64")
	fileHeader.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	part, err = writer.CreatePart(fileHeader)
	if err != nil {
		return fmt.Errorf("build mail attachment: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(pdf)
	for len(encoded) > 0 {
		n := 76
		if len(encoded) < n {
			n = len(encoded)
		}
		if _, err := fmt.Fprintf(part, "%s\r\n", encoded[:n]); err != nil {
			return fmt.Errorf("write mail attachment: %w", err)
		}
		encoded = encoded[n:]
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalize mail: %w", err)
	}

	msg.Write(body.Bytes())
	return m.send(to, msg.Bytes())
}

func (m *Mailer) send(to string, msg []byte) error {
	addr := fmt.Sprintf("%s:%s", m.cfg.Host, m.cfg.Port)
	auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	if err := m.sendMail(addr, auth, m.cfg.From, []string{to}, msg); err != nil {
		m.logger.Error("smtp delivery failed", zap.String("to", to), zap.Error(err))
		return err
	}
	m.logger.Info("mail delivered", zap.String("to", to))
	return nil
}
