// Package mailer composes and delivers certificate emails.
package mailer

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/certpipe/certpipe/internal/domain"
)

// variablePattern matches ~Var~ substitution tokens. Token names start
// with a letter and may contain letters, digits and underscores.
var variablePattern = regexp.MustCompile(`~([A-Za-z][A-Za-z0-9_]*)~`)

// ReplaceVariables substitutes ~Var~ tokens with record field values.
// Lookup is case-insensitive; tokens with no matching field are left
// verbatim so authoring mistakes stay visible in test sends.
func ReplaceVariables(text string, record domain.Record) string {
	return variablePattern.ReplaceAllStringFunc(text, func(token string) string {
		name := token[1 : len(token)-1]
		if value, ok := record.Field(name); ok && value != "" {
			return value
		}
		return token
	})
}

// Email is a fully composed message ready for transport.
type Email struct {
	From           string
	ReplyTo        string
	To             string
	CC             []string
	BCC            []string
	Subject        string
	HTMLBody       string
	TextBody       string
	MessageID      string
	UnsubscribeURL string
	BatchID        string
	EntityRefID    string
}

// ComposeInput carries everything composition needs for one recipient.
type ComposeInput struct {
	Recipient    string
	Record       domain.Record
	Subject      string
	Message      string
	Heading      string
	From         string
	SenderName   string
	ReplyTo      string
	CC           []string
	BCC          []string
	ImageURL     string
	PublicID     string
	BatchID      string
	SupportEmail string
}

// Composer renders the HTML and plain-text bodies for certificate emails.
type Composer struct {
	baseURL string
}

func NewComposer(baseURL string) *Composer {
	return &Composer{baseURL: strings.TrimRight(baseURL, "/")}
}

func (c *Composer) Compose(in ComposeInput) (Email, error) {
	if strings.TrimSpace(in.Recipient) == "" {
		return Email{}, fmt.Errorf("%w: recipient is required", domain.ErrValidation)
	}
	if strings.TrimSpace(in.From) == "" {
		return Email{}, fmt.Errorf("%w: from address is required", domain.ErrValidation)
	}
	if strings.TrimSpace(in.ImageURL) == "" {
		return Email{}, fmt.Errorf("%w: certificate url is required", domain.ErrValidation)
	}

	subject := ReplaceVariables(in.Subject, in.Record)
	if strings.TrimSpace(subject) == "" {
		subject = "Your certificate is ready"
	}
	message := ReplaceVariables(in.Message, in.Record)
	heading := ReplaceVariables(in.Heading, in.Record)
	if strings.TrimSpace(heading) == "" {
		heading = subject
	}

	// Escaping keeps plus-addressed recipients intact through the query
	// string round-trip.
	unsubscribeURL := fmt.Sprintf("%s/v1/unsubscribe?email=%s", c.baseURL, url.QueryEscape(in.Recipient))
	verifyURL := ""
	if in.PublicID != "" {
		verifyURL = fmt.Sprintf("%s/v1/validate/%s", c.baseURL, in.PublicID)
	}

	from := in.From
	if in.SenderName != "" {
		from = fmt.Sprintf("%s <%s>", in.SenderName, in.From)
	}

	email := Email{
		From:           from,
		ReplyTo:        in.ReplyTo,
		To:             in.Recipient,
		CC:             in.CC,
		BCC:            in.BCC,
		Subject:        subject,
		HTMLBody:       renderHTML(heading, message, in.ImageURL, verifyURL, unsubscribeURL, in.SupportEmail),
		TextBody:       renderText(heading, message, in.ImageURL, verifyURL, unsubscribeURL),
		MessageID:      newMessageID(in.From),
		UnsubscribeURL: unsubscribeURL,
		BatchID:        in.BatchID,
		EntityRefID:    in.PublicID,
	}
	return email, nil
}

func renderHTML(heading, message, imageURL, verifyURL, unsubscribeURL, supportEmail string) string {
	var b strings.Builder

	b.WriteString(`<div style="font-family:Arial,sans-serif;max-width:600px;margin:0 auto;">`)
	fmt.Fprintf(&b, "<h2>%s</h2>", html.EscapeString(heading))

	for _, para := range strings.Split(message, "\n") {
		if strings.TrimSpace(para) == "" {
			continue
		}
		fmt.Fprintf(&b, "<p>%s</p>", html.EscapeString(para))
	}

	fmt.Fprintf(&b, `<p><img src=%q alt="Certificate" style="max-width:100%%;"/></p>`, imageURL)
	fmt.Fprintf(&b,
		`<p><a href=%q style="display:inline-block;padding:10px 20px;background:#2563eb;color:#ffffff;text-decoration:none;border-radius:4px;">Download certificate</a></p>`,
		imageURL)

	if verifyURL != "" {
		fmt.Fprintf(&b, `<p style="font-size:12px;color:#666;">Verify this certificate at <a href=%q>%s</a></p>`,
			verifyURL, html.EscapeString(verifyURL))
	}

	b.WriteString(`<hr style="border:none;border-top:1px solid #eee;"/>`)
	if supportEmail != "" {
		fmt.Fprintf(&b, `<p style="font-size:12px;color:#999;">Questions? Contact <a href="mailto:%s">%s</a></p>`,
			supportEmail, html.EscapeString(supportEmail))
	}
	fmt.Fprintf(&b, `<p style="font-size:12px;color:#999;"><a href=%q>Unsubscribe</a></p>`, unsubscribeURL)
	b.WriteString("</div>")

	return b.String()
}

func renderText(heading, message, imageURL, verifyURL, unsubscribeURL string) string {
	var b strings.Builder

	b.WriteString(heading)
	b.WriteString("\n\n")
	if strings.TrimSpace(message) != "" {
		b.WriteString(message)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Download your certificate: %s\n", imageURL)
	if verifyURL != "" {
		fmt.Fprintf(&b, "Verify at: %s\n", verifyURL)
	}
	fmt.Fprintf(&b, "\nUnsubscribe: %s\n", unsubscribeURL)

	return b.String()
}

func newMessageID(from string) string {
	mailDomain := "certpipe.local"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		mailDomain = from[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), mailDomain)
}
