// Package notify mails a summary of a bulk run.
package notify

import (
	"fmt"
	"net/smtp"
	"payticket-backend/internal/bulk"
	"payticket-backend/internal/queueclient"
	"sort"
	"strings"
	"time"

	"github.com/jordan-wright/email"
)

type SmtpConfig struct {
	Server       string `json:"server"`
	Port         int    `json:"port"`
	EmailAddress string `json:"email_address"`
	Password     string `json:"password"`
}

type Mailer struct {
	config SmtpConfig
}

func NewMailer(config SmtpConfig) Mailer {
	if config.Port == 0 {
		config.Port = 587
	}
	return Mailer{config: config}
}

// Subject summarizes outcomes in one line.
func Subject(outcomes []bulk.Outcome) string {
	counts := bulk.Count(outcomes)
	return fmt.Sprintf("Ticket lookups: %d/%d succeeded", counts[bulk.KindOk], len(outcomes))
}

// Body renders one line per outcome followed by totals per kind.
func Body(outcomes []bulk.Outcome, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Bulk lookup finished %s\n\n", at.Format("2006-01-02 15:04 MST"))

	for _, o := range outcomes {
		fmt.Fprintf(&b, "%-12s %-10s %-15s", o.Request.TicketNumber, o.Request.PlateNumber, o.Kind)
		switch {
		case o.Kind == bulk.KindOk:
			details, err := queueclient.DecodeDetails(o.Result)
			if err == nil && details.Summary.Amount != "" {
				fmt.Fprintf(&b, " $%s %s", details.Summary.Amount, details.Summary.Status)
			}
		case o.Err != nil:
			fmt.Fprintf(&b, " %s", o.Err)
		}
		b.WriteString("\n")
	}

	counts := bulk.Count(outcomes)
	kinds := make([]string, 0, len(counts))
	for kind := range counts {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)

	b.WriteString("\n")
	for _, kind := range kinds {
		fmt.Fprintf(&b, "%s: %d\n", kind, counts[bulk.Kind(kind)])
	}
	return b.String()
}

func (m Mailer) SendReport(outcomes []bulk.Outcome, at time.Time, to ...string) error {
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Ticket Queue <%s>", m.config.EmailAddress)
	mail.To = to
	mail.Subject = Subject(outcomes)
	mail.Text = []byte(Body(outcomes, at))

	addr := fmt.Sprintf("%s:%d", m.config.Server, m.config.Port)
	err := mail.Send(addr, smtp.PlainAuth("", m.config.EmailAddress, m.config.Password, m.config.Server))
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	if err != nil {
		return fmt.Errorf("send report: %w", err)
	}
	return nil
}
