package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// AlertStatus represents the status of an alert
type AlertStatus string

const (
	StatusActive   AlertStatus = "active"
	StatusResolved AlertStatus = "resolved"
)

// Alert represents a monitoring alert
type Alert struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Severity   AlertSeverity `json:"severity"`
	Status     AlertStatus   `json:"status"`
	Value      float64       `json:"value"`
	Threshold  float64       `json:"threshold"`
	FiredAt    time.Time     `json:"fired_at"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
}

// AlertRule defines a threshold rule over a metrics query.
// Supported queries: "error_rate", "sink_failure_rate".
type AlertRule struct {
	Name      string
	Query     string
	Threshold float64
	Severity  AlertSeverity
	For       time.Duration // how long the value must stay below threshold before resolving
}

// AlertNotifier delivers alert transitions
type AlertNotifier interface {
	SendAlert(ctx context.Context, alert *Alert) error
	ResolveAlert(ctx context.Context, alert *Alert) error
}

// LogNotifier writes alert transitions to the structured log
type LogNotifier struct {
	logger *Logger
}

// NewLogNotifier creates a notifier backed by the service logger
func NewLogNotifier(logger *Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// SendAlert logs a fired alert
func (n *LogNotifier) SendAlert(_ context.Context, alert *Alert) error {
	n.logger.Error("Alert fired",
		"alert", alert.Name,
		"severity", string(alert.Severity),
		"value", alert.Value,
		"threshold", alert.Threshold,
	)
	return nil
}

// ResolveAlert logs a resolved alert
func (n *LogNotifier) ResolveAlert(_ context.Context, alert *Alert) error {
	n.logger.Info("Alert resolved",
		"alert", alert.Name,
		"value", alert.Value,
	)
	return nil
}

// AlertManager evaluates threshold rules against service metrics and
// notifies on fire/resolve transitions
type AlertManager struct {
	mu            sync.Mutex
	rules         []AlertRule
	alerts        map[string]*Alert
	notifiers     []AlertNotifier
	metrics       *Metrics
	logger        *Logger
	checkInterval time.Duration
}

// NewAlertManager creates a new alert manager
func NewAlertManager(metrics *Metrics, logger *Logger, checkInterval time.Duration) *AlertManager {
	return &AlertManager{
		rules:         []AlertRule{},
		alerts:        make(map[string]*Alert),
		notifiers:     []AlertNotifier{},
		metrics:       metrics,
		logger:        logger,
		checkInterval: checkInterval,
	}
}

// AddRule adds an alert rule
func (am *AlertManager) AddRule(rule AlertRule) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.rules = append(am.rules, rule)
}

// AddNotifier adds a notifier
func (am *AlertManager) AddNotifier(notifier AlertNotifier) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.notifiers = append(am.notifiers, notifier)
}

// DefaultRules returns the rules the server installs at startup
func DefaultRules() []AlertRule {
	return []AlertRule{
		{
			Name:      "high_error_rate",
			Query:     "error_rate",
			Threshold: 5.0,
			Severity:  SeverityWarning,
			For:       time.Minute,
		},
		{
			Name:      "sink_failures",
			Query:     "sink_failure_rate",
			Threshold: 25.0,
			Severity:  SeverityCritical,
			For:       time.Minute,
		},
	}
}

// Start begins the alert evaluation loop and blocks until ctx is cancelled
func (am *AlertManager) Start(ctx context.Context) {
	ticker := time.NewTicker(am.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			am.evaluateRules(ctx)
		}
	}
}

func (am *AlertManager) evaluateRules(ctx context.Context) {
	am.mu.Lock()
	rules := make([]AlertRule, len(am.rules))
	copy(rules, am.rules)
	am.mu.Unlock()

	for _, rule := range rules {
		am.evaluateRule(ctx, rule)
	}
}

func (am *AlertManager) evaluateRule(ctx context.Context, rule AlertRule) {
	var currentValue float64
	switch rule.Query {
	case "error_rate":
		currentValue = am.metrics.GetErrorRate()
	case "sink_failure_rate":
		currentValue = am.metrics.SinkFailureRate()
	default:
		am.logger.SystemLogger("unknown_alert_query", fmt.Sprintf("Unknown query type: %s", rule.Query))
		return
	}

	am.mu.Lock()
	alert, exists := am.alerts[rule.Name]
	am.mu.Unlock()

	if currentValue > rule.Threshold {
		if !exists || alert.Status != StatusActive {
			alert = &Alert{
				ID:        rule.Name,
				Name:      rule.Name,
				Severity:  rule.Severity,
				Status:    StatusActive,
				Value:     currentValue,
				Threshold: rule.Threshold,
				FiredAt:   time.Now(),
			}
			am.mu.Lock()
			am.alerts[rule.Name] = alert
			am.mu.Unlock()
			am.fireAlert(ctx, alert)
		}
		return
	}

	if exists && alert.Status == StatusActive && time.Since(alert.FiredAt) > rule.For {
		now := time.Now()
		alert.Status = StatusResolved
		alert.ResolvedAt = &now
		alert.Value = currentValue
		am.resolveAlert(ctx, alert)
	}
}

func (am *AlertManager) fireAlert(ctx context.Context, alert *Alert) {
	for _, notifier := range am.notifiers {
		if err := notifier.SendAlert(ctx, alert); err != nil {
			am.logger.SystemLogger("alert_notify_failed", err.Error())
		}
	}
}

func (am *AlertManager) resolveAlert(ctx context.Context, alert *Alert) {
	for _, notifier := range am.notifiers {
		if err := notifier.ResolveAlert(ctx, alert); err != nil {
			am.logger.SystemLogger("alert_notify_failed", err.Error())
		}
	}
}

// ActiveAlerts returns the alerts currently firing
func (am *AlertManager) ActiveAlerts() []*Alert {
	am.mu.Lock()
	defer am.mu.Unlock()

	active := make([]*Alert, 0, len(am.alerts))
	for _, alert := range am.alerts {
		if alert.Status == StatusActive {
			active = append(active, alert)
		}
	}
	return active
}
