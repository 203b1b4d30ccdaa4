package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"time"

	"github.com/propview/viewings/backend/internal/invites"
	"github.com/propview/viewings/backend/internal/records"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultMaxInFlight = 4

var (
	errMissingTransport = errors.New("mailer: transport is required")
	errMissingDetails   = errors.New("mailer: detail source is required")
)

var bodyTemplate = template.Must(template.New("confirmation").Parse(`<div>
  <p>Hi <strong>{{.FirstName}}</strong>,</p>
  <p>
    Thank you for accepting our invitation to viewing {{.ViewingName}} at
    {{.Location}} at {{.When}}. Please confirm by clicking the link below:
  </p>
  <p><a href="{{.ConfirmURL}}" target="_blank" rel="noopener noreferrer">Confirm Invitation</a></p>
  <p>Best regards,<br />Your Property Team</p>
</div>`))

// DetailSource resolves the joined invite fields needed to render an email.
type DetailSource interface {
	Detail(ctx context.Context, viewingID, leadID string) (invites.Detail, error)
}

// DispatcherConfig describes the dependencies of the notification dispatcher.
type DispatcherConfig struct {
	Transport     Transport
	Details       DetailSource
	Enabled       bool
	PublicBaseURL string
	MaxInFlight   int
	Logger        *zap.Logger
}

// Dispatcher turns invited leads into outbound confirmation emails. Sends run
// with bounded concurrency; one recipient's failure is logged and never halts
// the batch or feeds back into the invite state machine.
type Dispatcher struct {
	transport   Transport
	details     DetailSource
	enabled     bool
	baseURL     string
	maxInFlight int
	logger      *zap.Logger
}

// NewDispatcher constructs the notification dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Enabled && cfg.Transport == nil {
		return nil, errMissingTransport
	}
	if cfg.Details == nil {
		return nil, errMissingDetails
	}
	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		transport:   cfg.Transport,
		details:     cfg.Details,
		enabled:     cfg.Enabled,
		baseURL:     cfg.PublicBaseURL,
		maxInFlight: maxInFlight,
		logger:      logger,
	}, nil
}

// Dispatch renders and delivers one confirmation email per lead and returns
// the count of leads processed. The count reflects attempts, not confirmed
// deliveries. When sending is disabled the count is returned without any
// network call.
func (d *Dispatcher) Dispatch(ctx context.Context, viewingID string, leads []records.Lead) int {
	if !d.enabled || len(leads) == 0 {
		return len(leads)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(d.maxInFlight)
	for _, lead := range leads {
		group.Go(func() error {
			d.send(groupCtx, viewingID, lead)
			return nil
		})
	}
	_ = group.Wait()

	return len(leads)
}

func (d *Dispatcher) send(ctx context.Context, viewingID string, lead records.Lead) {
	detail, err := d.details.Detail(ctx, viewingID, lead.ID)
	if err != nil {
		d.logger.Error("confirmation email skipped",
			zap.Error(err),
			zap.String("viewing_id", viewingID),
			zap.String("lead_id", lead.ID))
		return
	}

	msg, err := d.render(detail, viewingID, lead.ID)
	if err != nil {
		d.logger.Error("confirmation email render failed",
			zap.Error(err),
			zap.String("viewing_id", viewingID),
			zap.String("lead_id", lead.ID))
		return
	}
	msg.To = lead.Email

	if err := d.transport.Send(ctx, msg); err != nil {
		d.logger.Error("confirmation email delivery failed",
			zap.Error(err),
			zap.String("viewing_id", viewingID),
			zap.String("lead_id", lead.ID))
		return
	}
	d.logger.Info("confirmation email sent",
		zap.String("viewing_id", viewingID),
		zap.String("lead_id", lead.ID))
}

func (d *Dispatcher) render(detail invites.Detail, viewingID, leadID string) (Message, error) {
	data := struct {
		FirstName   string
		ViewingName string
		Location    string
		When        string
		ConfirmURL  string
	}{
		FirstName:   detail.FirstName,
		ViewingName: detail.ViewingName,
		Location:    detail.Location,
		When:        formatDateTime(detail.DateAndTime),
		ConfirmURL:  fmt.Sprintf("%s/confirm-invite/%s/%s", d.baseURL, leadID, viewingID),
	}

	var body bytes.Buffer
	if err := bodyTemplate.Execute(&body, data); err != nil {
		return Message{}, err
	}

	return Message{
		Subject: fmt.Sprintf("RE: Property at %s", detail.Location),
		HTML:    body.String(),
	}, nil
}

// formatDateTime renders "2/1/2006 at 3:04 PM"; a bare midnight timestamp is
// rendered as the date alone.
func formatDateTime(value time.Time) string {
	if value.Hour() == 0 && value.Minute() == 0 && value.Second() == 0 {
		return value.Format("2/1/2006")
	}
	return fmt.Sprintf("%s at %s", value.Format("2/1/2006"), value.Format("3:04 PM"))
}
