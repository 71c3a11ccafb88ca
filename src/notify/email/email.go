package email

import (
	"fmt"

	gomail "gopkg.in/gomail.v2"

	"github.com/bililive-tools/bililive-tools/src/configs"
)

// for test
var dialAndSend = func(d *gomail.Dialer, m *gomail.Message) error {
	return d.DialAndSend(m)
}

// SendEmail 通过配置的 SMTP 服务发送一封纯文本邮件
func SendEmail(subject, body string) error {
	cfg := configs.GetCurrentConfig()
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}
	email := cfg.Notify.Email
	if email.SMTPHost == "" || email.SenderEmail == "" || email.RecipientEmail == "" {
		return fmt.Errorf("email notification is not fully configured")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", email.SenderEmail)
	m.SetHeader("To", email.RecipientEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := gomail.NewDialer(email.SMTPHost, email.SMTPPort, email.SenderEmail, email.SenderPassword)
	return dialAndSend(d, m)
}
