// Package trigger implements the non-scheduled trigger types: webhook
// ingress and the in-memory registry that backs it.
package trigger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/smilemakc/mbflow/internal/infrastructure/logger"
	storagemodels "github.com/smilemakc/mbflow/internal/infrastructure/storage/models"
	"github.com/smilemakc/mbflow/pkg/models"
)

// WorkflowExecutor starts a workflow execution, returning its execution ID
// without waiting for completion. Satisfied by the engine's ExecutionManager.
type WorkflowExecutor interface {
	Execute(ctx context.Context, workflowID string, input map[string]interface{}) (string, error)
}

// RateLimiter reports whether a webhook call under the given key may proceed.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// WebhookRegistryConfig configures a WebhookRegistry.
type WebhookRegistryConfig struct {
	Logger      *logger.Logger
	Executor    WorkflowExecutor
	RateLimiter RateLimiter
}

// WebhookRegistry holds webhook triggers in memory keyed by trigger ID and
// executes the workflow a webhook call targets.
type WebhookRegistry struct {
	mu          sync.RWMutex
	webhooks    map[string]*models.Trigger
	logger      *logger.Logger
	executor    WorkflowExecutor
	rateLimiter RateLimiter
}

// NewWebhookRegistry creates an empty webhook registry.
func NewWebhookRegistry(cfg WebhookRegistryConfig) *WebhookRegistry {
	return &WebhookRegistry{
		webhooks:    make(map[string]*models.Trigger),
		logger:      cfg.Logger,
		executor:    cfg.Executor,
		rateLimiter: cfg.RateLimiter,
	}
}

// RegisterWebhook adds a webhook trigger to the registry. Non-webhook
// triggers are silently ignored.
func (wr *WebhookRegistry) RegisterWebhook(ctx context.Context, trigger *models.Trigger) error {
	if trigger.Type != models.TriggerTypeWebhook {
		return nil
	}

	wr.mu.Lock()
	defer wr.mu.Unlock()
	wr.webhooks[trigger.ID] = trigger
	return nil
}

// UnregisterWebhook removes a webhook trigger. Removing a trigger that was
// never registered is not an error.
func (wr *WebhookRegistry) UnregisterWebhook(ctx context.Context, triggerID string) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	delete(wr.webhooks, triggerID)
	return nil
}

// GetWebhook returns the registered trigger for a trigger ID, if any.
func (wr *WebhookRegistry) GetWebhook(triggerID string) (*models.Trigger, bool) {
	wr.mu.RLock()
	defer wr.mu.RUnlock()
	t, ok := wr.webhooks[triggerID]
	return t, ok
}

// FindByWorkflowID returns a webhook trigger registered for a workflow,
// enabled or not; when several are registered, which one is returned is not
// defined. It serves the flat `POST /webhooks/workflow-trigger` ingress that
// addresses a workflow directly rather than a specific trigger ID.
func (wr *WebhookRegistry) FindByWorkflowID(workflowID string) (*models.Trigger, bool) {
	wr.mu.RLock()
	defer wr.mu.RUnlock()
	for _, t := range wr.webhooks {
		if t.WorkflowID == workflowID {
			return t, true
		}
	}
	return nil, false
}

// RegisterAll registers every webhook-type trigger in a batch of storage
// models, ignoring the rest (cron, event, ...).
func (wr *WebhookRegistry) RegisterAll(ctx context.Context, triggers []*storagemodels.TriggerModel) error {
	for _, tm := range triggers {
		if tm.Type != string(models.TriggerTypeWebhook) {
			continue
		}
		if err := wr.RegisterWebhook(ctx, wr.modelToDomain(tm)); err != nil {
			return err
		}
	}
	return nil
}

// modelToDomain converts a storage trigger model into the domain Trigger
// shape the registry and webhook handlers operate on.
func (wr *WebhookRegistry) modelToDomain(m *storagemodels.TriggerModel) *models.Trigger {
	config := make(map[string]interface{}, len(m.Config))
	for k, v := range m.Config {
		config[k] = v
	}

	t := &models.Trigger{
		ID:         m.ID.String(),
		WorkflowID: m.WorkflowID.String(),
		Type:       models.TriggerType(m.Type),
		Config:     config,
		Enabled:    m.Enabled,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}

	if m.LastTriggeredAt != nil {
		lastRun := *m.LastTriggeredAt
		t.LastRun = &lastRun
	}

	return t
}

// computeSignature returns the hex-encoded HMAC-SHA256 of payload under
// secret. Go's encoding/json sorts map keys, so the digest is stable for a
// given payload regardless of map iteration order.
func (wr *WebhookRegistry) computeSignature(secret string, payload map[string]interface{}) string {
	body, _ := json.Marshal(payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// validateSignature checks the X-Webhook-Signature header against the
// trigger's configured secret. A trigger with no secret configured skips
// validation entirely.
func (wr *WebhookRegistry) validateSignature(trigger *models.Trigger, payload map[string]interface{}, headers map[string]string) error {
	secret, ok := trigger.Config["secret"].(string)
	if !ok || secret == "" {
		return nil
	}

	signature := headers["X-Webhook-Signature"]
	if signature == "" {
		return fmt.Errorf("signature validation failed: missing X-Webhook-Signature header")
	}

	expected := wr.computeSignature(secret, payload)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return fmt.Errorf("signature validation failed: signature mismatch")
	}

	return nil
}

// checkIPWhitelist enforces trigger.Config["ip_whitelist"], a list of exact
// IPs and/or CIDR ranges. No whitelist configured allows every source IP.
func (wr *WebhookRegistry) checkIPWhitelist(trigger *models.Trigger, sourceIP string) error {
	raw, ok := trigger.Config["ip_whitelist"]
	if !ok {
		return nil
	}

	entries, ok := raw.([]interface{})
	if !ok || len(entries) == 0 {
		return nil
	}

	ip := net.ParseIP(sourceIP)
	if ip == nil {
		return fmt.Errorf("IP not whitelisted: invalid source IP %q", sourceIP)
	}

	for _, entry := range entries {
		allowed, ok := entry.(string)
		if !ok {
			continue
		}

		if strictIP := net.ParseIP(allowed); strictIP != nil {
			if strictIP.Equal(ip) {
				return nil
			}
			continue
		}

		if _, cidr, err := net.ParseCIDR(allowed); err == nil && cidr.Contains(ip) {
			return nil
		}
	}

	return fmt.Errorf("IP not whitelisted: %s is not in whitelist", sourceIP)
}

// ExecuteWebhook validates an inbound webhook call against its registered
// trigger and, if it passes, starts the target workflow asynchronously.
func (wr *WebhookRegistry) ExecuteWebhook(
	ctx context.Context,
	triggerID string,
	payload map[string]interface{},
	headers map[string]string,
	sourceIP string,
) (string, error) {
	trigger, exists := wr.GetWebhook(triggerID)
	if !exists {
		return "", fmt.Errorf("webhook trigger not found: %s", triggerID)
	}

	if !trigger.Enabled {
		return "", fmt.Errorf("webhook trigger disabled: %s", triggerID)
	}

	if err := wr.validateSignature(trigger, payload, headers); err != nil {
		return "", err
	}

	if err := wr.checkIPWhitelist(trigger, sourceIP); err != nil {
		return "", err
	}

	if wr.rateLimiter != nil {
		allowed, err := wr.rateLimiter.Allow(ctx, "webhook:"+triggerID)
		if err == nil && !allowed {
			return "", fmt.Errorf("rate limit exceeded for webhook %s", triggerID)
		}
	}

	if wr.executor == nil {
		return "", fmt.Errorf("no executor configured for webhook %s", triggerID)
	}

	executionID, err := wr.executor.Execute(ctx, trigger.WorkflowID, payload)
	if err != nil {
		if wr.logger != nil {
			wr.logger.ErrorContext(ctx, "webhook execution failed", "trigger_id", triggerID, "error", err)
		}
		return "", err
	}

	now := time.Now()
	wr.mu.Lock()
	if t, ok := wr.webhooks[triggerID]; ok {
		t.MarkTriggered(now)
	}
	wr.mu.Unlock()

	return executionID, nil
}

// ExecuteWorkflowTrigger implements the flat `POST /webhooks/workflow-trigger`
// ingress: it addresses a workflow by ID directly rather than a trigger ID,
// and verifies a plain shared secret carried in the request body instead of
// an HMAC header. If no webhook trigger is registered for the workflow the
// call still proceeds with no secret check, since the workflow may be
// triggered without a pre-registered trigger record.
func (wr *WebhookRegistry) ExecuteWorkflowTrigger(
	ctx context.Context,
	workflowID string,
	data map[string]interface{},
	secret string,
) (string, error) {
	if trigger, ok := wr.FindByWorkflowID(workflowID); ok {
		configured, hasSecret := trigger.Config["secret"].(string)
		if hasSecret && configured != "" {
			if !hmac.Equal([]byte(secret), []byte(configured)) {
				return "", fmt.Errorf("signature validation failed: secret mismatch")
			}
		}
	}

	if wr.executor == nil {
		return "", fmt.Errorf("no executor configured for workflow %s", workflowID)
	}

	return wr.executor.Execute(ctx, workflowID, data)
}
