package credentials

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"

	goerrors "github.com/goliatone/go-errors"
	gomail "gopkg.in/gomail.v2"
)

//go:embed data/templates/*.html
var mailTemplatesFS embed.FS

// SMTPNotifier delivers lifecycle email over SMTP. It satisfies Notifier
// and renders the embedded HTML templates with the account's pending
// secret token interpolated into a link.
type SMTPNotifier struct {
	dialer    *gomail.Dialer
	from      string
	baseURL   string
	templates *template.Template
	logger    Logger
}

// NewSMTPNotifier builds a notifier that dials the given SMTP endpoint.
// baseURL is the public root used to build confirmation and reset links,
// e.g. https://app.example.com.
func NewSMTPNotifier(host string, port int, username, password, from, baseURL string) (*SMTPNotifier, error) {
	templates, err := template.ParseFS(mailTemplatesFS, "data/templates/*.html")
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to parse mail templates")
	}

	return &SMTPNotifier{
		dialer:    gomail.NewDialer(host, port, username, password),
		from:      from,
		baseURL:   baseURL,
		templates: templates,
		logger:    defLogger{},
	}, nil
}

func (n *SMTPNotifier) WithLogger(logger Logger) *SMTPNotifier {
	if logger != nil {
		n.logger = logger
	}
	return n
}

// SendConfirmation mails the account confirmation link to the address
// that needs confirming.
func (n *SMTPNotifier) SendConfirmation(ctx context.Context, account *Account) error {
	return n.send(ctx, account.Email, "Confirm your account", "confirmation.html", map[string]string{
		"Username": account.Username,
		"Link":     fmt.Sprintf("%s/confirm?token=%s", n.baseURL, account.ConfirmationToken),
	})
}

// SendPasswordReset mails the password reset link.
func (n *SMTPNotifier) SendPasswordReset(ctx context.Context, account *Account) error {
	return n.send(ctx, account.Email, "Reset your password", "password_reset.html", map[string]string{
		"Username": account.Username,
		"Link":     fmt.Sprintf("%s/reset?token=%s", n.baseURL, account.ResetToken),
	})
}

// SendEmailChangeConfirmation mails the confirmation link for a pending
// address change to the NEW address; the old one keeps working until the
// link is followed.
func (n *SMTPNotifier) SendEmailChangeConfirmation(ctx context.Context, account *Account) error {
	return n.send(ctx, account.UnconfirmedEmail, "Confirm your new email address", "email_change.html", map[string]string{
		"Username": account.Username,
		"NewEmail": account.UnconfirmedEmail,
		"Link":     fmt.Sprintf("%s/confirm?token=%s", n.baseURL, account.ConfirmationToken),
	})
}

func (n *SMTPNotifier) send(ctx context.Context, to, subject, templateName string, data map[string]string) error {
	if to == "" {
		return goerrors.New("cannot send email without a recipient", goerrors.CategoryBadInput)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	var body bytes.Buffer
	if err := n.templates.ExecuteTemplate(&body, templateName, data); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to render mail template")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body.String())

	if err := n.dialer.DialAndSend(m); err != nil {
		n.logger.Error("SMTP delivery to %s failed: %v", to, err)
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to deliver email")
	}

	return nil
}
