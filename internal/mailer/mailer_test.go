package mailer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/annavaram/storefront/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "ja**@example.com", MaskEmail("jane@example.com"))
	assert.Equal(t, "**@x.io", MaskEmail("ab@x.io"))
	assert.Equal(t, "****", MaskEmail("not-an-email"))
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "INR 4.50", FormatAmount(450, "INR"))
	assert.Equal(t, "INR 0.05", FormatAmount(5, "INR"))
	assert.Equal(t, "-INR 12.00", FormatAmount(-1200, "INR"))
}

func TestTemplates_includeCodeAndEscapeName(t *testing.T) {
	msg := VerificationEmail("a@b.c", "<Jane>", "012345", 10*time.Minute)
	assert.Equal(t, "a@b.c", msg.To)
	assert.Contains(t, msg.Text, "012345")
	assert.Contains(t, msg.Text, "10 minutes")
	assert.Contains(t, msg.HTML, "&lt;Jane&gt;")

	reset := PasswordResetEmail("a@b.c", "Jane", "999999", 10*time.Minute)
	assert.Contains(t, reset.Subject, "Reset")
	assert.Contains(t, reset.HTML, "999999")

	order := OrderConfirmationEmail("a@b.c", "Jane", "0b7f3c1e-aaaa-bbbb-cccc-000000000000", "INR", 450,
		[]OrderLine{{Name: "Prasadam", Quantity: 2, Subtotal: 200}, {Name: "Lamp", Quantity: 1, Subtotal: 250}})
	assert.Equal(t, "Order 0b7f3c1e confirmed", order.Subject)
	assert.Contains(t, order.Text, "2 x Prasadam")
	assert.Contains(t, order.Text, "Total: INR 4.50")
}

func TestBuildMIME(t *testing.T) {
	body, err := buildMIME("shop@example.com", Message{To: "a@b.c", Subject: "Hi", Text: "plain", HTML: "<p>html</p>"})
	require.NoError(t, err)
	s := string(body)
	assert.Contains(t, s, "From: shop@example.com\r\n")
	assert.Contains(t, s, "multipart/alternative")
	assert.Contains(t, s, "text/plain")
	assert.Contains(t, s, "<p>html</p>")
	assert.True(t, strings.HasSuffix(s, "--\r\n"))
}

func TestNew_fallsBackToLogMailer(t *testing.T) {
	m := New(config.SMTPConfig{})
	_, ok := m.(LogMailer)
	require.True(t, ok)
	assert.NoError(t, m.Send(context.Background(), Message{To: "a@b.c", Subject: "x"}))
}
