package realtyauth

import (
	"log/slog"
	"sync"
)

// SendEmail interface allows applications to provide their own email sending implementation
type SendEmail interface {
	SendVerificationEmail(to string, verificationLink string) error
}

// ConsoleEmailSender is a development implementation that logs emails instead of sending them
type ConsoleEmailSender struct {
	Logger *slog.Logger

	mu sync.Mutex

	// Sent records every link handed to the sender, newest last
	Sent []SentEmail
}

// SentEmail is one email captured by ConsoleEmailSender
type SentEmail struct {
	To   string
	Link string
}

func (c *ConsoleEmailSender) SendVerificationEmail(to string, verificationLink string) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("email: verify your email address", "to", to, "link", verificationLink)
	c.mu.Lock()
	c.Sent = append(c.Sent, SentEmail{To: to, Link: verificationLink})
	c.mu.Unlock()
	return nil
}

// LastLink returns the most recent link sent to an address, or "" if none
func (c *ConsoleEmailSender) LastLink(to string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.Sent) - 1; i >= 0; i-- {
		if NormalizeEmail(c.Sent[i].To) == NormalizeEmail(to) {
			return c.Sent[i].Link
		}
	}
	return ""
}
