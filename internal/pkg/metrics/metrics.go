// Package metrics holds the Prometheus collectors shared by the CRM services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EmailsSent counts delivery attempts by source (campaign, triggered,
	// sequence) and outcome (sent, failed, skipped).
	EmailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_emails_sent_total",
			Help: "Email delivery attempts by source and outcome",
		},
		[]string{"source", "status"},
	)

	// EventTriggers counts processed domain events.
	EventTriggers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_event_triggers_total",
			Help: "Domain events processed by the automation runner",
		},
		[]string{"event"},
	)

	// CampaignSends counts whole-segment campaign sends by result.
	CampaignSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_campaign_sends_total",
			Help: "Whole-segment campaign sends by result",
		},
		[]string{"result"},
	)

	// HTTPRequests counts API requests by route pattern and status code.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPDuration observes API latency by route pattern.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// Source labels for EmailsSent.
const (
	SourceCampaign  = "campaign"
	SourceTriggered = "triggered"
	SourceSequence  = "sequence"
)
