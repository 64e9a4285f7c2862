package integration

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"checkout-dispatch/internal/apperr"
	"checkout-dispatch/internal/callback"
	"checkout-dispatch/internal/logcontext"
	"checkout-dispatch/internal/model"
	"checkout-dispatch/internal/payload"
	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultUtmifyURL          = "https://api.utmify.com.br/api-credentials/orders"
	DefaultFacebookGraphURL   = "https://graph.facebook.com"
	DefaultFacebookAPIVersion = "v18.0"

	defaultParallelism = 4
)

type Store interface {
	GetIntegrations(ctx context.Context, vendorID string) ([]*model.Integration, error)
}

type Options struct {
	UtmifyURL          string
	Utmify             payload.UtmifyOptions
	FacebookGraphURL   string
	FacebookAPIVersion string
}

// Notifier forwards order events to the vendor's UTMify and Facebook Conversions integrations.
// Outcomes are reported, never returned as errors.
type Notifier struct {
	store  Store
	sender *callback.Sender
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

func NewNotifier(store Store, sender *callback.Sender, opts Options, logger *slog.Logger) *Notifier {
	opts.UtmifyURL = lo.Ternary(opts.UtmifyURL == "", DefaultUtmifyURL, opts.UtmifyURL)
	opts.FacebookGraphURL = strings.TrimSuffix(lo.Ternary(opts.FacebookGraphURL == "", DefaultFacebookGraphURL, opts.FacebookGraphURL), "/")
	opts.FacebookAPIVersion = lo.Ternary(opts.FacebookAPIVersion == "", DefaultFacebookAPIVersion, opts.FacebookAPIVersion)

	return &Notifier{
		store:  store,
		sender: sender,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

func (n *Notifier) Notify(ctx context.Context, order *model.Order, product *model.Product, event model.EventType) []model.IntegrationOutcome {
	integrations, err := n.store.GetIntegrations(ctx, order.VendorID)
	if err != nil {
		n.logger.ErrorContext(ctx, "Error loading integrations", "error", err)
		return nil
	}

	integrations = lo.Filter(integrations, func(i *model.Integration, _ int) bool {
		return i.Kind == model.IntegrationUtmify || i.Kind == model.IntegrationFacebook
	})

	outcomes := make([]model.IntegrationOutcome, len(integrations))

	g := new(errgroup.Group)
	g.SetLimit(defaultParallelism)
	for i, integration := range integrations {
		g.Go(func() error {
			integrationCtx := logcontext.AppendCtx(ctx, slog.String("integrationId", integration.ID.String()))
			outcome := n.notify(integrationCtx, integration, order, product, event)
			countOutcome(outcome)
			outcomes[i] = outcome
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (n *Notifier) notify(ctx context.Context, integration *model.Integration, order *model.Order, product *model.Product, event model.EventType) model.IntegrationOutcome {
	outcome := model.IntegrationOutcome{IntegrationID: integration.ID, Kind: integration.Kind}

	var (
		resp *callback.Response
		err  error
	)
	switch integration.Kind {
	case model.IntegrationUtmify:
		resp, err = n.sendUtmify(ctx, integration, order, product, event)
	case model.IntegrationFacebook:
		resp, err = n.sendFacebook(ctx, integration, order, product, event)
	}

	if resp != nil {
		outcome.StatusCode = &resp.StatusCode
	}

	switch {
	case errors.Is(err, errSkipped):
		outcome.Result = model.IntegrationSkipped
	case errors.Is(err, apperr.ErrNotConfigured):
		n.logger.WarnContext(ctx, "Integration not configured", "kind", integration.Kind, "error", err)
		outcome.Result = model.IntegrationNotConfigured
		outcome.Error = err.Error()
	case err != nil:
		n.logger.WarnContext(ctx, "Integration notification failed", "kind", integration.Kind, "error", err)
		outcome.Result = model.IntegrationFailed
		outcome.Error = err.Error()
	default:
		n.logger.InfoContext(ctx, "Integration notified", "kind", integration.Kind)
		outcome.Result = model.IntegrationSent
	}
	return outcome
}

var errSkipped = errors.New("nothing to send")

func (n *Notifier) sendUtmify(ctx context.Context, integration *model.Integration, order *model.Order, product *model.Product, event model.EventType) (*callback.Response, error) {
	cfg, err := integration.UtmifyConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Accepts(order.ProductID, event) {
		return nil, errSkipped
	}
	if cfg.APIToken == "" {
		return nil, errors.Wrap(apperr.ErrNotConfigured, "utmify api token missing")
	}

	utmifyOrder, ok := payload.BuildUtmify(order, product, n.now(), n.opts.Utmify)
	if !ok {
		return nil, errSkipped
	}

	body, err := payload.Encode(utmifyOrder)
	if err != nil {
		return nil, errors.Wrap(err, "encode utmify order")
	}

	return n.sender.Send(ctx, callback.Request{
		URL:  n.opts.UtmifyURL,
		Body: body,
		Headers: map[string]string{
			"x-api-token":     cfg.APIToken,
			"Idempotency-Key": payload.UtmifyIdempotencyKey(utmifyOrder),
		},
	})
}

func (n *Notifier) sendFacebook(ctx context.Context, integration *model.Integration, order *model.Order, product *model.Product, event model.EventType) (*callback.Response, error) {
	cfg, err := integration.FacebookConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Accepts(order.ProductID, event) {
		return nil, errSkipped
	}
	if cfg.PixelID == "" || cfg.AccessToken == "" {
		return nil, errors.Wrap(apperr.ErrNotConfigured, "facebook pixel id or access token missing")
	}

	capiEvent, ok := payload.BuildCapiEvent(order, product, event, n.now())
	if !ok {
		return nil, errSkipped
	}

	body, err := payload.Encode(payload.CapiRequest{
		Data:          []payload.CapiEvent{*capiEvent},
		AccessToken:   cfg.AccessToken,
		TestEventCode: cfg.TestEventCode,
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode conversions event")
	}

	return n.sender.Send(ctx, callback.Request{
		URL:  fmt.Sprintf("%s/%s/%s/events", n.opts.FacebookGraphURL, n.opts.FacebookAPIVersion, cfg.PixelID),
		Body: body,
	})
}

func countOutcome(o model.IntegrationOutcome) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`integration_notify_total{kind=%q,result=%q}`, o.Kind, o.Result)).Inc()
}
