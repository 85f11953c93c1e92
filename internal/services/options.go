package services

import (
	"time"

	"github.com/diewo77/go-prefacturation/internal/metrics"
	"go.uber.org/zap"
)

// Settings are the business defaults applied by the services.
type Settings struct {
	VATRate             float64
	FuelSurchargeRate   float64
	PaymentTermDays     int
	AutoAcceptThreshold float64
	VigilanceAlertDays  int
}

// DefaultSettings mirrors the defaults of the configuration layer.
func DefaultSettings() Settings {
	return Settings{
		VATRate:             0.20,
		FuelSurchargeRate:   0.10,
		PaymentTermDays:     30,
		AutoAcceptThreshold: 0.01,
		VigilanceAlertDays:  30,
	}
}

type options struct {
	log      *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	settings Settings
	ocr      OCRClient
}

// Option customizes a service.
type Option func(*options)

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMetrics records operation outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithSettings overrides the business defaults.
func WithSettings(s Settings) Option {
	return func(o *options) { o.settings = s }
}

// WithOCR sets the OCR collaborator used on carrier invoice upload.
func WithOCR(c OCRClient) Option {
	return func(o *options) { o.ocr = c }
}

func newOptions(opts []Option) options {
	o := options{
		log:      zap.NewNop(),
		now:      time.Now,
		settings: DefaultSettings(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
