package utils

import (
	"fmt"

	"fanrealms-backend/config"

	"gopkg.in/gomail.v2"
)

// MailEnabled reports whether an SMTP host is configured. Without one every
// notification is skipped.
func MailEnabled() bool {
	return config.Get().SMTP.Host != ""
}

func SendMail(to, subject, htmlBody string) error {
	cfg := config.Get().SMTP
	if cfg.Host == "" {
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", cfg.Sender)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}
