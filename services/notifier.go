// services/notifier.go
package services

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"league-registration-system/models"
	"league-registration-system/workers"

	"github.com/gosimple/slug"
	"github.com/gosimple/unidecode"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	JobCustomerConfirmation = "customer_confirmation"
	JobAdminNotification    = "admin_notification"
	JobReceiptArchive       = "receipt_archive"
)

// NotifierConfig carries the league branding and recipients.
type NotifierConfig struct {
	League          string
	LeagueShortName string
	Season          string
	AdminEmail      string
	CustomerBCC     []string
	SiteURL         string
}

// Notifier renders registration notifications and binds them to dispatcher
// job types.
type Notifier struct {
	cfg      NotifierConfig
	customer *template.Template
	admin    *template.Template
	plain    *texttemplate.Template
}

func NewNotifier(cfg NotifierConfig) *Notifier {
	return &Notifier{
		cfg:      cfg,
		customer: template.Must(template.New("customer").Parse(customerTemplate)),
		admin:    template.Must(template.New("admin").Parse(adminTemplate)),
		plain:    texttemplate.Must(texttemplate.New("plain").Parse(plainTemplate)),
	}
}

// Register binds the notification job types. archive may be nil, in which
// case receipts are not archived.
func (n *Notifier) Register(d *workers.Dispatcher, email []workers.Channel, archive workers.Channel, opts workers.Options) error {
	if err := d.Register(JobCustomerConfirmation, workers.JobSpec{Render: n.RenderCustomer, Channels: email, Options: opts}); err != nil {
		return err
	}
	if err := d.Register(JobAdminNotification, workers.JobSpec{Render: n.RenderAdmin, Channels: email, Options: opts}); err != nil {
		return err
	}
	if archive == nil {
		return nil
	}
	return d.Register(JobReceiptArchive, workers.JobSpec{Render: n.RenderReceipt, Channels: []workers.Channel{archive}, Options: opts})
}

type templateData struct {
	League      string
	ShortName   string
	Season      string
	SiteURL     string
	ID          string
	PlayerName  string
	Email       string
	Phone       string
	AgeGroup    string
	PlayingRole string
	State       string
	Batting     string
	Bowling     string
	Order       string
	Amount      string
	Method      string
	PayStatus   string
	Notes       string
	CreatedAt   string
	Year        int
}

func (n *Notifier) data(reg models.Registration) templateData {
	return templateData{
		League:      n.cfg.League,
		ShortName:   n.cfg.LeagueShortName,
		Season:      reg.Season,
		SiteURL:     n.cfg.SiteURL,
		ID:          reg.ID,
		PlayerName:  cases.Title(language.English).String(reg.Player.FullName),
		Email:       reg.Player.Email,
		Phone:       reg.Player.Phone,
		AgeGroup:    reg.Player.AgeGroup,
		PlayingRole: reg.Player.PlayingRole,
		State:       reg.Player.State,
		Batting:     reg.Player.BattingHandedness,
		Bowling:     reg.Player.BowlingStyle,
		Order:       reg.Player.BattingOrder,
		Amount:      FormatAmount(reg.Amount),
		Method:      strings.ToUpper(string(reg.Payment.Method)),
		PayStatus:   strings.ToUpper(string(reg.Payment.Status)),
		Notes:       reg.Notes,
		CreatedAt:   reg.CreatedAt.Format("02 Jan 2006 15:04 MST"),
		Year:        time.Now().Year(),
	}
}

// FormatAmount renders a whole-rupee amount as "INR 3,300".
func FormatAmount(amount int64) string {
	return message.NewPrinter(language.English).Sprintf("INR %d", amount)
}

func (n *Notifier) RenderCustomer(payload any) (workers.Message, error) {
	reg, err := registrationPayload(payload)
	if err != nil {
		return workers.Message{}, err
	}
	d := n.data(reg)
	subject := fmt.Sprintf("%s Registration Confirmation - %s", n.cfg.LeagueShortName, reg.ID)
	return n.render(reg, n.customer, d, subject, []string{reg.Player.Email}, n.cfg.CustomerBCC)
}

func (n *Notifier) RenderAdmin(payload any) (workers.Message, error) {
	reg, err := registrationPayload(payload)
	if err != nil {
		return workers.Message{}, err
	}
	if n.cfg.AdminEmail == "" {
		return workers.Message{}, fmt.Errorf("admin notification email is not configured")
	}
	d := n.data(reg)
	subject := fmt.Sprintf("New Registration Received - %s", reg.ID)
	return n.render(reg, n.admin, d, subject, []string{n.cfg.AdminEmail}, nil)
}

// RenderReceipt renders the customer confirmation as a stored receipt.
func (n *Notifier) RenderReceipt(payload any) (workers.Message, error) {
	reg, err := registrationPayload(payload)
	if err != nil {
		return workers.Message{}, err
	}
	d := n.data(reg)
	subject := fmt.Sprintf("%s Registration Receipt - %s", n.cfg.LeagueShortName, reg.ID)
	msg, err := n.render(reg, n.customer, d, subject, nil, nil)
	if err != nil {
		return workers.Message{}, err
	}
	msg.ObjectKey = ReceiptKey(reg)
	return msg, nil
}

// ReceiptKey is receipts/<season>/<slug of player name>-<id>.html.
func ReceiptKey(reg models.Registration) string {
	name := slug.Make(reg.Player.FullName)
	if name == "" {
		name = "player"
	}
	season := slug.Make(reg.Season)
	if season == "" {
		season = "unknown"
	}
	return fmt.Sprintf("receipts/%s/%s-%s.html", season, name, reg.ID)
}

func (n *Notifier) render(reg models.Registration, tmpl *template.Template, d templateData, subject string, to, bcc []string) (workers.Message, error) {
	var html bytes.Buffer
	if err := tmpl.Execute(&html, d); err != nil {
		return workers.Message{}, fmt.Errorf("failed to render %s: %w", tmpl.Name(), err)
	}
	var text bytes.Buffer
	if err := n.plain.Execute(&text, d); err != nil {
		return workers.Message{}, fmt.Errorf("failed to render plain text: %w", err)
	}
	return workers.Message{
		RegistrationID: reg.ID,
		To:             to,
		Bcc:            bcc,
		Subject:        subject,
		HTML:           html.String(),
		// Some relays and clients mangle non-ASCII plain text parts.
		Text: unidecode.Unidecode(text.String()),
	}, nil
}

func registrationPayload(payload any) (models.Registration, error) {
	switch p := payload.(type) {
	case models.Registration:
		return p, nil
	case *models.Registration:
		if p == nil {
			return models.Registration{}, fmt.Errorf("nil registration payload")
		}
		return *p, nil
	}
	return models.Registration{}, fmt.Errorf("unexpected notification payload %T", payload)
}

const customerTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.ShortName}} Registration Confirmed</title></head>
<body style="font-family: Arial, sans-serif; color: #222;">
  <h1>Registration Confirmed</h1>
  <p>Welcome to {{.League}} ({{.ShortName}})</p>
  <h2>Congratulations {{.PlayerName}}!</h2>
  <p>Your registration for {{.ShortName}} {{.Season}} has been confirmed.</p>
  <h3>Registration Details</h3>
  <p><strong>Registration ID:</strong> {{.ID}}</p>
  <p><strong>Player Name:</strong> {{.PlayerName}}</p>
  <p><strong>Email:</strong> {{.Email}}</p>
  <p><strong>Phone:</strong> {{.Phone}}</p>
  <p><strong>Age Group:</strong> {{.AgeGroup}}</p>
  <p><strong>Playing Role:</strong> {{.PlayingRole}}</p>
  <p><strong>State:</strong> {{.State}}</p>
  <p><strong>Registration Fee:</strong> {{.Amount}}</p>
  <p><strong>Payment Status:</strong> {{.PayStatus}}</p>
  <p><strong>Season:</strong> {{.Season}}</p>
  <h3>Player Profile</h3>
  <p><strong>Batting Style:</strong> {{.Batting}}</p>
  <p><strong>Bowling Style:</strong> {{.Bowling}}</p>
  <p><strong>Batting Order:</strong> {{.Order}}</p>
  <p>Keep this registration ID safe for future reference.</p>
  {{if .SiteURL}}<p><a href="{{.SiteURL}}">Visit the {{.ShortName}} website</a></p>{{end}}
  <p style="color: #888;">&copy; {{.Year}} {{.ShortName}}. All rights reserved.</p>
</body>
</html>`

const adminTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>New {{.ShortName}} Registration</title></head>
<body style="font-family: Arial, sans-serif; color: #222;">
  <h1>New {{.ShortName}} Registration</h1>
  <p>A new player has registered for {{.ShortName}} {{.Season}}.</p>
  <h3>Registration Information</h3>
  <p><strong>Registration ID:</strong> {{.ID}}</p>
  <p><strong>Player Name:</strong> {{.PlayerName}}</p>
  <p><strong>Email:</strong> {{.Email}}</p>
  <p><strong>Phone:</strong> {{.Phone}}</p>
  <p><strong>Registration Fee:</strong> {{.Amount}}</p>
  <p><strong>Payment Method:</strong> {{.Method}}</p>
  <p><strong>Payment Status:</strong> {{.PayStatus}}</p>
  <p><strong>Registration Date:</strong> {{.CreatedAt}}</p>
  <h3>Player Profile</h3>
  <p><strong>Age Group:</strong> {{.AgeGroup}}</p>
  <p><strong>Playing Role:</strong> {{.PlayingRole}}</p>
  <p><strong>State:</strong> {{.State}}</p>
  <p><strong>Batting Style:</strong> {{.Batting}}</p>
  <p><strong>Bowling Style:</strong> {{.Bowling}}</p>
  <p><strong>Batting Order:</strong> {{.Order}}</p>
  {{if .Notes}}<h3>Player Notes</h3>
  <p>{{.Notes}}</p>{{end}}
</body>
</html>`

const plainTemplate = `{{.League}} ({{.ShortName}}) {{.Season}}

Registration ID: {{.ID}}
Player Name: {{.PlayerName}}
Email: {{.Email}}
Phone: {{.Phone}}
Age Group: {{.AgeGroup}}
Playing Role: {{.PlayingRole}}
State: {{.State}}
Registration Fee: {{.Amount}}
Payment Method: {{.Method}}
Payment Status: {{.PayStatus}}
{{if .Notes}}
Notes: {{.Notes}}
{{end}}`
