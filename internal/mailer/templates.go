package mailer

import (
	"fmt"
	"html"
	"strings"
	"time"
)

// VerificationEmail carries an email-verification code
func VerificationEmail(to, name, code string, ttl time.Duration) Message {
	mins := int(ttl.Minutes())
	return Message{
		To:      to,
		Subject: "Verify your email address",
		Text: fmt.Sprintf("Hi %s,\n\nYour verification code is %s. It expires in %d minutes.\n\nIf you did not create an account, ignore this email.\n",
			name, code, mins),
		HTML: fmt.Sprintf(`<p>Hi %s,</p><p>Your verification code is <strong>%s</strong>. It expires in %d minutes.</p><p>If you did not create an account, ignore this email.</p>`,
			html.EscapeString(name), code, mins),
	}
}

// PasswordResetEmail carries a password-reset code
func PasswordResetEmail(to, name, code string, ttl time.Duration) Message {
	mins := int(ttl.Minutes())
	return Message{
		To:      to,
		Subject: "Reset your password",
		Text: fmt.Sprintf("Hi %s,\n\nUse code %s to reset your password. It expires in %d minutes.\n\nIf you did not request a reset, ignore this email.\n",
			name, code, mins),
		HTML: fmt.Sprintf(`<p>Hi %s,</p><p>Use code <strong>%s</strong> to reset your password. It expires in %d minutes.</p><p>If you did not request a reset, ignore this email.</p>`,
			html.EscapeString(name), code, mins),
	}
}

// OrderLine is one row of an order confirmation
type OrderLine struct {
	Name     string
	Quantity int
	Subtotal int64
}

// OrderConfirmationEmail summarises a paid order
func OrderConfirmationEmail(to, name, orderID, currency string, total int64, lines []OrderLine) Message {
	var text, rows strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&text, "  %d x %s  %s\n", l.Quantity, l.Name, FormatAmount(l.Subtotal, currency))
		fmt.Fprintf(&rows, "<tr><td>%d</td><td>%s</td><td>%s</td></tr>", l.Quantity, html.EscapeString(l.Name), FormatAmount(l.Subtotal, currency))
	}
	return Message{
		To:      to,
		Subject: fmt.Sprintf("Order %s confirmed", shortID(orderID)),
		Text: fmt.Sprintf("Hi %s,\n\nThanks for your order %s.\n\n%s\nTotal: %s\n",
			name, orderID, text.String(), FormatAmount(total, currency)),
		HTML: fmt.Sprintf(`<p>Hi %s,</p><p>Thanks for your order %s.</p><table>%s</table><p>Total: <strong>%s</strong></p>`,
			html.EscapeString(name), orderID, rows.String(), FormatAmount(total, currency)),
	}
}

// FormatAmount renders minor units as a decimal amount with the currency code
func FormatAmount(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%s %d.%02d", sign, currency, minor/100, minor%100)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
