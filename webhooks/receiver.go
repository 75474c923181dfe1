package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/memorymesh/integrations/core"
)

const maxPayloadBytes = 1 << 20 // 1 MiB

type ReceiverConfig struct {
	Registry core.Registry
	Sink     core.EventSink
	Logger   core.Logger
	Metrics  core.MetricsRecorder
	// ProcessTimeout bounds the post-ack processing of one delivery.
	ProcessTimeout time.Duration
}

// Receiver terminates provider webhook callbacks. The provider is answered
// before any processing happens: after signature verification the response
// is written and the parsed events travel through the sink on a separate
// goroutine, so a slow or failing downstream never causes provider-side
// retries.
type Receiver struct {
	registry       core.Registry
	sink           core.EventSink
	logger         core.Logger
	metrics        core.MetricsRecorder
	processTimeout time.Duration

	inflight sync.WaitGroup
}

func NewReceiver(cfg ReceiverConfig) (*Receiver, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("webhooks: registry is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("webhooks: event sink is required")
	}
	timeout := cfg.ProcessTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Receiver{
		registry:       cfg.Registry,
		sink:           cfg.Sink,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		processTimeout: timeout,
	}, nil
}

// Handler mounts the webhook routes. Providers that register one shared
// endpoint use the two-segment form; providers that register per
// connection append the connection id.
func (r *Receiver) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/integrations/{provider}", func(w http.ResponseWriter, req *http.Request) {
		r.handle(w, req, req.PathValue("provider"), "")
	})
	mux.HandleFunc("POST /webhooks/integrations/{provider}/{connectionID}", func(w http.ResponseWriter, req *http.Request) {
		r.handle(w, req, req.PathValue("provider"), req.PathValue("connectionID"))
	})
	return mux
}

// Wait blocks until all in-flight post-ack processing has finished. Used
// during shutdown and in tests.
func (r *Receiver) Wait() {
	if r == nil {
		return
	}
	r.inflight.Wait()
}

func (r *Receiver) handle(w http.ResponseWriter, req *http.Request, providerID string, connectionID string) {
	providerID = strings.TrimSpace(providerID)
	plugin, ok := r.registry.Get(providerID)
	if !ok {
		http.Error(w, "unknown provider", http.StatusNotFound)
		return
	}
	webhookPlugin, ok := plugin.(core.WebhookPlugin)
	if !ok || !plugin.Capabilities().Webhooks {
		http.Error(w, "provider does not accept webhooks", http.StatusNotFound)
		return
	}

	// past provider resolution everything acks 200: a non-2xx here only
	// earns provider-side retries of a delivery we cannot use
	body, err := io.ReadAll(io.LimitReader(req.Body, maxPayloadBytes+1))
	if err != nil {
		writeAck(w, "unreadable payload")
		return
	}
	if len(body) > maxPayloadBytes {
		core.RecordCounter(req.Context(), r.metrics, "webhooks.oversized", 1, map[string]string{
			"provider_id": providerID,
		})
		writeAck(w, "payload too large")
		return
	}

	inbound := core.InboundRequest{
		ProviderID:   providerID,
		ConnectionID: strings.TrimSpace(connectionID),
		Headers:      flattenHeaders(req.Header),
		Body:         body,
	}
	if err := webhookPlugin.VerifySignature(inbound); err != nil {
		core.RecordCounter(req.Context(), r.metrics, "webhooks.rejected", 1, map[string]string{
			"provider_id": providerID,
		})
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	// ack before work: the provider gets its 200 no matter what happens
	// downstream
	writeAck(w, "")

	r.inflight.Add(1)
	go r.process(webhookPlugin, inbound)
}

func writeAck(w http.ResponseWriter, errMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if errMsg == "" {
		_, _ = w.Write([]byte(`{"received":true}`))
		return
	}
	payload, _ := json.Marshal(map[string]any{"received": true, "error": errMsg})
	_, _ = w.Write(payload)
}

func (r *Receiver) process(plugin core.WebhookPlugin, inbound core.InboundRequest) {
	defer r.inflight.Done()

	// the request context died with the response; processing gets its own
	ctx, cancel := context.WithTimeout(context.Background(), r.processTimeout)
	defer cancel()

	defer func() {
		if recovered := recover(); recovered != nil {
			core.LogError(ctx, r.logger, "webhook processing panicked", map[string]any{
				"provider_id": inbound.ProviderID,
				"panic":       fmt.Sprint(recovered),
			})
			core.RecordCounter(ctx, r.metrics, "webhooks.panics", 1, map[string]string{
				"provider_id": inbound.ProviderID,
			})
		}
	}()

	events, err := plugin.ParseEvents(inbound.Body)
	if err != nil {
		core.LogWarn(ctx, r.logger, "webhook payload parse failed", map[string]any{
			"provider_id": inbound.ProviderID,
			"error":       err.Error(),
		})
		return
	}
	for i := range events {
		if strings.TrimSpace(events[i].ProviderID) == "" {
			events[i].ProviderID = inbound.ProviderID
		}
		if strings.TrimSpace(events[i].ConnectionID) == "" {
			events[i].ConnectionID = inbound.ConnectionID
		}
	}
	if len(events) == 0 {
		return
	}

	if err := r.sink.HandleEvents(ctx, events); err != nil {
		core.LogWarn(ctx, r.logger, "webhook event handling failed", map[string]any{
			"provider_id": inbound.ProviderID,
			"events":      len(events),
			"error":       err.Error(),
		})
		return
	}
	core.RecordCounter(ctx, r.metrics, "webhooks.processed", 1, map[string]string{
		"provider_id": inbound.ProviderID,
	})
}

func flattenHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) == 0 {
			continue
		}
		out[key] = values[0]
	}
	return out
}
