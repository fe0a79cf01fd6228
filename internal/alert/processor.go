// Package alert evaluates incoming events against users' alert rules and
// fans matched events out to delivery channels.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"spacenexus/internal/model"
	"spacenexus/internal/storage"
)

// ErrUnknownTrigger is returned for events of a trigger type with no registered Trigger.
var ErrUnknownTrigger = errors.New("unknown trigger type")

// Store is the persistence the processor needs.
type Store interface {
	ListActiveRules(ctx context.Context, triggerType model.TriggerType) ([]model.AlertRule, error)
	RecordTrigger(ctx context.Context, rule *model.AlertRule, history *model.AlertHistory, deliveries []model.AlertDelivery, at time.Time) error
}

// Processor matches events against active alert rules.
type Processor struct {
	store    Store
	triggers Registry
	log      *slog.Logger
	now      func() time.Time
}

// New creates a Processor dispatching to the given triggers.
func New(store Store, triggers Registry, log *slog.Logger) *Processor {
	return &Processor{
		store:    store,
		triggers: triggers,
		log:      log,
		now:      time.Now,
	}
}

// SetClock overrides the time source used for cooldowns and trigger timestamps.
func (p *Processor) SetClock(now func() time.Time) {
	p.now = now
}

// ProcessRaw decodes a JSON event of the given trigger type and processes it.
// Only decoding problems are returned as errors.
func (p *Processor) ProcessRaw(ctx context.Context, triggerType model.TriggerType, data []byte) (int, error) {
	trigger, ok := p.triggers[triggerType]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTrigger, triggerType)
	}
	ev, err := trigger.Decode(data)
	if err != nil {
		return 0, fmt.Errorf("decode %s event: %w", triggerType, err)
	}
	return p.Process(ctx, triggerType, ev), nil
}

// Process evaluates ev against every active rule of triggerType and returns
// the number of rules that fired. Each rule is handled independently: a rule
// that fails to record is logged and left out of the count.
func (p *Processor) Process(ctx context.Context, triggerType model.TriggerType, ev Event) int {
	rules, err := p.store.ListActiveRules(ctx, triggerType)
	if err != nil {
		p.log.Error("list active rules", "trigger_type", triggerType, "error", err)
		return 0
	}
	if len(rules) == 0 {
		return 0
	}

	trigger, ok := p.triggers[triggerType]
	if !ok {
		p.log.Warn("no matcher registered", "trigger_type", triggerType, "rules", len(rules))
		return 0
	}

	now := p.now().UTC()
	triggered := 0
	for i := range rules {
		if ctx.Err() != nil {
			p.log.Warn("alert processing interrupted", "trigger_type", triggerType, "triggered", triggered, "error", ctx.Err())
			break
		}
		if p.processRule(ctx, trigger, &rules[i], ev, now) {
			triggered++
		}
	}

	p.log.Info("processed alert rules", "trigger_type", triggerType, "rules", len(rules), "triggered", triggered)
	return triggered
}

func (p *Processor) processRule(ctx context.Context, trigger Trigger, rule *model.AlertRule, ev Event, now time.Time) (fired bool) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("alert rule panicked", "rule_id", rule.ID, "user_id", rule.UserID, "panic", r)
			fired = false
		}
	}()

	if coolingDown(rule, now) {
		return false
	}

	matched, err := trigger.Match(rule.TriggerConfig, ev)
	if err != nil {
		p.log.Error("match rule", "rule_id", rule.ID, "user_id", rule.UserID, "error", err)
		return false
	}
	if !matched {
		return false
	}

	payload := ev.Payload()
	history := &model.AlertHistory{
		RuleID:      rule.ID,
		UserID:      rule.UserID,
		TriggerType: rule.TriggerType,
		EventData:   payload,
	}
	deliveries := buildDeliveries(rule, ev, payload)

	err = p.store.RecordTrigger(ctx, rule, history, deliveries, now)
	switch {
	case errors.Is(err, storage.ErrRuleCoolingDown):
		p.log.Debug("rule claimed concurrently", "rule_id", rule.ID)
		return false
	case err != nil:
		p.log.Error("record trigger", "rule_id", rule.ID, "user_id", rule.UserID, "error", err)
		return false
	}

	p.log.Debug("rule triggered", "rule_id", rule.ID, "user_id", rule.UserID, "deliveries", len(deliveries))
	return true
}

// coolingDown reports whether rule fired less than its cooldown before now.
func coolingDown(rule *model.AlertRule, now time.Time) bool {
	if rule.LastTriggeredAt == nil {
		return false
	}
	cooldown := time.Duration(rule.CooldownMinutes) * time.Minute
	return now.Sub(*rule.LastTriggeredAt) < cooldown
}

func buildDeliveries(rule *model.AlertRule, ev Event, payload map[string]any) []model.AlertDelivery {
	title, message := ev.Notification()

	deliveries := make([]model.AlertDelivery, 0, len(rule.Channels))
	for _, ch := range rule.Channels {
		data := make(map[string]any, len(payload)+4)
		maps.Copy(data, payload)
		data["triggerType"] = string(rule.TriggerType)
		data["priority"] = string(rule.Priority)
		data["ruleId"] = rule.ID
		data["ruleName"] = rule.Name

		deliveries = append(deliveries, model.AlertDelivery{
			UserID:  rule.UserID,
			Channel: ch,
			Status:  model.DeliveryPending,
			Title:   title,
			Message: message,
			Data:    data,
		})
	}
	return deliveries
}
