package main

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/dkortekaas/declair/auth"
	"github.com/dkortekaas/declair/internal/account"
	"github.com/dkortekaas/declair/internal/analytics"
	"github.com/dkortekaas/declair/internal/audit"
	"github.com/dkortekaas/declair/internal/config"
	"github.com/dkortekaas/declair/internal/currency"
	"github.com/dkortekaas/declair/internal/discount"
	"github.com/dkortekaas/declair/internal/events"
	"github.com/dkortekaas/declair/internal/expenses"
	"github.com/dkortekaas/declair/internal/export"
	"github.com/dkortekaas/declair/internal/invitations"
	"github.com/dkortekaas/declair/internal/invoicing"
	"github.com/dkortekaas/declair/internal/logger"
	"github.com/dkortekaas/declair/internal/mail"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/internal/newsletter"
	"github.com/dkortekaas/declair/internal/payments"
	"github.com/dkortekaas/declair/internal/policy"
	"github.com/dkortekaas/declair/internal/quotes"
	"github.com/dkortekaas/declair/internal/ratelimit"
	"github.com/dkortekaas/declair/internal/recurring"
	"github.com/dkortekaas/declair/internal/reminders"
	"github.com/dkortekaas/declair/internal/timetracking"
	"github.com/dkortekaas/declair/internal/vat"
	"gorm.io/gorm"
)

const profileCacheTTL = 5 * time.Minute

// stack holds the process-owned clients and every service built on them.
type stack struct {
	cfg *config.Config
	db  *gorm.DB

	gate    *policy.AuthGate
	limiter ratelimit.Limiter
	events  events.Publisher
	mailer  mail.Mailer
	audit   *audit.Log

	currency    *currency.Service
	discounts   *discount.Service
	invoices    *invoicing.Service
	quotes      *quotes.Service
	recurring   *recurring.Service
	generator   *recurring.Generator
	timeEntries *timetracking.Service
	expenses    *expenses.Service
	vat         *vat.Service
	reminders   *reminders.Service
	accounts    *account.Service
	invitations *invitations.Service
	newsletter  *newsletter.Service
	analytics   *analytics.Service
	exporter    *export.Exporter
	links       *payments.Links
	billing     *payments.Billing
	webhook     *payments.Webhook

	closers []io.Closer
}

// newStack connects the optional brokers named in cfg and falls back to
// in-process implementations for the ones left empty.
func newStack(cfg *config.Config, conn *gorm.DB) (*stack, error) {
	log := logger.WithComponent("stack")
	s := &stack{cfg: cfg, db: conn, audit: audit.New(conn)}
	s.gate = policy.NewAuthGate(conn, profileCacheTTL)

	if cfg.Redis.Addr != "" {
		s.limiter = ratelimit.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, "declair")
		log.Info().Str("addr", cfg.Redis.Addr).Msg("rate limits in redis")
	} else {
		s.limiter = ratelimit.NewMemory()
	}

	if cfg.Kafka.Broker != "" {
		p := events.NewKafkaProducer(cfg.Kafka.Broker, cfg.Kafka.Topic)
		s.events = p
		s.closers = append(s.closers, p)
		log.Info().Str("broker", cfg.Kafka.Broker).Str("topic", cfg.Kafka.Topic).Msg("publishing events to kafka")
	} else {
		s.events = events.Nop{}
	}

	if cfg.RabbitMQ.URL != "" {
		q, err := mail.NewQueueMailer(cfg.RabbitMQ.URL, cfg.RabbitMQ.EmailQueue, cfg.Mail.From)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.mailer = q
		s.closers = append(s.closers, q)
		log.Info().Str("queue", cfg.RabbitMQ.EmailQueue).Msg("queueing mail in rabbitmq")
	} else {
		s.mailer = mail.LogMailer{}
	}

	base := cfg.App.BaseURL
	s.currency = currency.NewService(conn)
	s.discounts = discount.NewService(conn)
	s.invoices = invoicing.NewService(conn,
		invoicing.WithMailer(s.mailer),
		invoicing.WithEvents(s.events),
		invoicing.WithRates(s.currency),
		invoicing.WithAudit(s.audit),
	)
	s.quotes = quotes.NewService(conn, quotes.NewGuard(conn, s.limiter), s.invoices,
		quotes.WithMailer(s.mailer),
		quotes.WithEvents(s.events),
		quotes.WithAudit(s.audit),
		quotes.WithBaseURL(base),
	)
	s.recurring = recurring.NewService(conn)
	s.generator = recurring.NewGenerator(conn, s.invoices)
	s.timeEntries = timetracking.NewService(conn)
	s.expenses = expenses.NewService(conn, expenses.WithRates(s.currency), expenses.WithAudit(s.audit))
	s.vat = vat.NewService(conn)
	s.accounts = account.NewService(conn,
		account.WithMailer(s.mailer),
		account.WithLimiter(s.limiter),
		account.WithBaseURL(base),
	)
	s.invitations = invitations.NewService(conn, invitations.WithMailer(s.mailer), invitations.WithBaseURL(base))
	s.newsletter = newsletter.NewService(conn, cfg.App.NewsletterSecret, newsletter.WithMailer(s.mailer), newsletter.WithBaseURL(base))
	s.analytics = analytics.NewService(conn)
	s.exporter = export.NewExporter(conn)

	reminderOpts := []reminders.Option{reminders.WithMailer(s.mailer)}
	if cfg.Stripe.SecretKey != "" {
		gw := payments.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.ProPriceID)
		s.links = payments.NewLinks(conn, gw, s.invoices, base)
		s.billing = payments.NewBilling(conn, gw, s.discounts, base)
		reminderOpts = append(reminderOpts, reminders.WithLinks(s.links))
	} else {
		log.Warn().Msg("STRIPE_SECRET_KEY not set, payment links and checkout disabled")
	}
	if cfg.Stripe.WebhookSecret != "" {
		s.webhook = payments.NewWebhook(conn, cfg.Stripe.WebhookSecret, s.invoices, s.discounts, s.events)
	}
	s.reminders = reminders.NewService(conn, s.invoices, reminderOpts...)
	return s, nil
}

// installAuth points the session layer at the configured secret and makes
// sessions of deleted users invalid.
func (s *stack) installAuth() {
	auth.SetSecret(s.cfg.App.SessionSecret)
	auth.SetUserVerifier(func(ctx context.Context, uid uint) bool {
		var count int64
		err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", uid).Count(&count).Error
		return err == nil && count > 0
	})
}

// Close releases the broker connections in reverse order of creation.
func (s *stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i].Close())
	}
	s.closers = nil
	return errors.Join(errs...)
}
