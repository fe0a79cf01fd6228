package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"spacenexus/internal/model"
)

const ruleColumns = `id, user_id, name, trigger_type, trigger_config, channels, priority,
	last_triggered_at, cooldown_minutes, is_active, trigger_count, created_at`

const deliveryColumns = `id, user_id, history_id, channel, status, title, message, data, source, created_at`

const defaultPendingLimit = 100

// CreateAlertRule inserts a new rule and populates its ID and CreatedAt.
func (s *SQLite) CreateAlertRule(ctx context.Context, rule *model.AlertRule) error {
	if rule.ID == "" {
		rule.ID = newID()
	}
	rule.CreatedAt = nowOr(rule.CreatedAt).Truncate(time.Second)

	channels, err := encodeJSON(rule.Channels, "[]")
	if err != nil {
		return fmt.Errorf("encode channels: %w", err)
	}
	config := "{}"
	if len(rule.TriggerConfig) > 0 {
		config = string(rule.TriggerConfig)
	}
	var lastTriggered any
	if rule.LastTriggeredAt != nil {
		lastTriggered = formatTime(*rule.LastTriggeredAt)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO alert_rules (`+ruleColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.UserID, rule.Name, string(rule.TriggerType), config, channels, string(rule.Priority),
		lastTriggered, rule.CooldownMinutes, boolToInt(rule.IsActive), rule.TriggerCount, formatTime(rule.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert alert rule %s: %w", rule.ID, ErrDuplicate)
		}
		return fmt.Errorf("insert alert rule: %w", err)
	}
	return nil
}

// GetAlertRule returns a single rule by its ID.
func (s *SQLite) GetAlertRule(ctx context.Context, id string) (*model.AlertRule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM alert_rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert rule %s: %w", id, ErrNotFound)
	}
	return rule, err
}

// ListActiveRules returns the active rules subscribed to triggerType. Rules
// whose stored channels cannot be decoded are logged and skipped.
func (s *SQLite) ListActiveRules(ctx context.Context, triggerType model.TriggerType) ([]model.AlertRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM alert_rules
		 WHERE trigger_type = ? AND is_active = 1
		 ORDER BY created_at, rowid`, string(triggerType),
	)
	if err != nil {
		return nil, fmt.Errorf("query alert rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.AlertRule
	for rows.Next() {
		r, err := scanRule(rows)
		if errors.Is(err, errMalformedRule) {
			s.log.Warn("skip malformed alert rule", "trigger_type", triggerType, "error", err)
			continue
		}
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

// RecordTrigger atomically claims rule for a firing at the given instant and
// writes the history row and its deliveries. The claim only succeeds if the
// stored last trigger time is outside the rule's cooldown, so concurrent
// processors cannot fire the same rule twice; a lost claim returns
// ErrRuleCoolingDown and writes nothing. On success history and deliveries
// get their IDs and rule reflects the new trigger state.
func (s *SQLite) RecordTrigger(ctx context.Context, rule *model.AlertRule, history *model.AlertHistory, deliveries []model.AlertDelivery, at time.Time) error {
	at = at.UTC()
	cutoff := at.Add(-time.Duration(rule.CooldownMinutes) * time.Minute)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE alert_rules
		 SET last_triggered_at = ?, trigger_count = trigger_count + 1
		 WHERE id = ? AND (last_triggered_at IS NULL OR last_triggered_at <= ?)`,
		formatTime(at), rule.ID, formatTime(cutoff),
	)
	if err != nil {
		return fmt.Errorf("claim rule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM alert_rules WHERE id = ?`, rule.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check rule: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("alert rule %s: %w", rule.ID, ErrNotFound)
		}
		return fmt.Errorf("alert rule %s: %w", rule.ID, ErrRuleCoolingDown)
	}

	if history.ID == "" {
		history.ID = newID()
	}
	history.CreatedAt = at.Truncate(time.Second)
	eventData, err := encodeJSON(history.EventData, "{}")
	if err != nil {
		return fmt.Errorf("encode event data: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO alert_history (id, rule_id, user_id, trigger_type, event_data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		history.ID, history.RuleID, history.UserID, string(history.TriggerType), eventData, formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("insert alert history: %w", err)
	}

	for i := range deliveries {
		deliveries[i].HistoryID = history.ID
		if err := insertDelivery(ctx, tx, &deliveries[i], at); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	triggered := at.Truncate(time.Second)
	rule.LastTriggeredAt = &triggered
	rule.TriggerCount++
	return nil
}

// ListAlertHistory returns the history rows written for a rule, oldest first.
func (s *SQLite) ListAlertHistory(ctx context.Context, ruleID string) ([]model.AlertHistory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, rule_id, user_id, trigger_type, event_data, created_at
		 FROM alert_history WHERE rule_id = ? ORDER BY rowid`, ruleID,
	)
	if err != nil {
		return nil, fmt.Errorf("query alert history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var history []model.AlertHistory
	for rows.Next() {
		var h model.AlertHistory
		var triggerType, eventData, created string
		if err := rows.Scan(&h.ID, &h.RuleID, &h.UserID, &triggerType, &eventData, &created); err != nil {
			return nil, fmt.Errorf("scan alert history: %w", err)
		}
		h.TriggerType = model.TriggerType(triggerType)
		h.CreatedAt = parseTime(created)
		if h.EventData, err = decodeData(eventData); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// ListDeliveries returns all deliveries addressed to a user in creation order.
func (s *SQLite) ListDeliveries(ctx context.Context, userID string) ([]model.AlertDelivery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deliveryColumns+` FROM alert_deliveries WHERE user_id = ? ORDER BY rowid`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanDeliveries(rows)
}

// ListPendingDeliveries returns up to limit pending deliveries for a channel,
// oldest first. A non-positive limit uses the default page size.
func (s *SQLite) ListPendingDeliveries(ctx context.Context, channel model.Channel, limit int) ([]model.AlertDelivery, error) {
	if limit <= 0 {
		limit = defaultPendingLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deliveryColumns+` FROM alert_deliveries
		 WHERE channel = ? AND status = ?
		 ORDER BY rowid LIMIT ?`,
		string(channel), string(model.DeliveryPending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending deliveries: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanDeliveries(rows)
}

// UpdateDeliveryStatus moves a pending delivery to a terminal status.
func (s *SQLite) UpdateDeliveryStatus(ctx context.Context, id string, status model.DeliveryStatus) error {
	if status != model.DeliverySent && status != model.DeliveryFailed {
		return fmt.Errorf("invalid delivery status %q", status)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE alert_deliveries SET status = ? WHERE id = ? AND status = ?`,
		string(status), id, string(model.DeliveryPending),
	)
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alert_deliveries WHERE id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check delivery: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("delivery %s: %w", id, ErrNotFound)
	}
	return fmt.Errorf("delivery %s: %w", id, ErrNotPending)
}

func scanRule(row scannable) (*model.AlertRule, error) {
	var r model.AlertRule
	var triggerType, config, channels, priority, created string
	var lastTriggered sql.NullString
	var isActive int
	err := row.Scan(&r.ID, &r.UserID, &r.Name, &triggerType, &config, &channels, &priority,
		&lastTriggered, &r.CooldownMinutes, &isActive, &r.TriggerCount, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan alert rule: %w", err)
	}
	r.TriggerType = model.TriggerType(triggerType)
	r.TriggerConfig = json.RawMessage(config)
	r.Priority = model.Priority(priority)
	r.LastTriggeredAt = parseNullTime(lastTriggered)
	r.IsActive = isActive == 1
	r.CreatedAt = parseTime(created)
	if err := json.Unmarshal([]byte(channels), &r.Channels); err != nil {
		return nil, fmt.Errorf("%w: rule %s: decode channels: %w", errMalformedRule, r.ID, err)
	}
	return &r, nil
}

func scanDeliveries(rows *sql.Rows) ([]model.AlertDelivery, error) {
	var deliveries []model.AlertDelivery
	for rows.Next() {
		var d model.AlertDelivery
		var historyID sql.NullString
		var channel, status, data, created string
		err := rows.Scan(&d.ID, &d.UserID, &historyID, &channel, &status, &d.Title, &d.Message, &data, &d.Source, &created)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		d.HistoryID = historyID.String
		d.Channel = model.Channel(channel)
		d.Status = model.DeliveryStatus(status)
		d.CreatedAt = parseTime(created)
		if d.Data, err = decodeData(data); err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}
