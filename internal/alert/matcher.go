package alert

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"spacenexus/internal/model"
)

// Matchers follow one convention: an empty list in the config is a wildcard.

// LaunchStatusConfig is the trigger config of launch_status rules.
type LaunchStatusConfig struct {
	Providers     []string `json:"providers,omitempty"`
	StatusChanges []string `json:"statusChanges,omitempty"`
}

// MatchLaunchStatus reports whether ev satisfies cfg. The event provider must
// contain one of the configured providers (case-sensitive substring) and the
// status must equal one of the configured statuses ignoring case.
func MatchLaunchStatus(cfg LaunchStatusConfig, ev LaunchStatusEvent) bool {
	if len(cfg.Providers) > 0 && !slices.ContainsFunc(cfg.Providers, func(p string) bool {
		return strings.Contains(ev.Provider, p)
	}) {
		return false
	}
	if len(cfg.StatusChanges) > 0 && !slices.ContainsFunc(cfg.StatusChanges, func(s string) bool {
		return strings.EqualFold(s, ev.Status)
	}) {
		return false
	}
	return true
}

// NewsKeywordConfig is the trigger config of news_keyword rules.
type NewsKeywordConfig struct {
	Keywords        []string `json:"keywords,omitempty"`
	ExcludeKeywords []string `json:"excludeKeywords,omitempty"`
	Sources         []string `json:"sources,omitempty"`
}

// MatchNewsKeyword reports whether ev satisfies cfg.
// Keywords use OR logic (at least one must appear in title or summary),
// excluded keywords use AND logic (none may appear). Both ignore case.
// Sources must equal the event source ignoring case.
func MatchNewsKeyword(cfg NewsKeywordConfig, ev NewsEvent) bool {
	text := strings.ToLower(ev.Title + " " + ev.Summary)
	contains := func(word string) bool {
		return strings.Contains(text, strings.ToLower(word))
	}

	if slices.ContainsFunc(cfg.ExcludeKeywords, contains) {
		return false
	}
	if len(cfg.Keywords) > 0 && !slices.ContainsFunc(cfg.Keywords, contains) {
		return false
	}
	if len(cfg.Sources) > 0 && !slices.ContainsFunc(cfg.Sources, func(s string) bool {
		return strings.EqualFold(s, ev.Source)
	}) {
		return false
	}
	return true
}

// ContractAwardConfig is the trigger config of contract_award rules.
type ContractAwardConfig struct {
	Agencies  []string `json:"agencies,omitempty"`
	Companies []string `json:"companies,omitempty"`
	MinAmount *float64 `json:"minAmount,omitempty"`
}

// MatchContractAward reports whether ev satisfies cfg. Agencies and companies
// match as case-insensitive substrings. A MinAmount only matches disclosed
// amounts at or above it.
func MatchContractAward(cfg ContractAwardConfig, ev ContractAwardEvent) bool {
	if !containsFold(cfg.Agencies, ev.Agency) || !containsFold(cfg.Companies, ev.Company) {
		return false
	}
	if cfg.MinAmount != nil && (ev.Amount == nil || *ev.Amount < *cfg.MinAmount) {
		return false
	}
	return true
}

func containsFold(candidates []string, value string) bool {
	if len(candidates) == 0 {
		return true
	}
	value = strings.ToLower(value)
	return slices.ContainsFunc(candidates, func(c string) bool {
		return strings.Contains(value, strings.ToLower(c))
	})
}

// Trigger decodes events of one trigger type and matches them against rule configs.
type Trigger struct {
	Decode func(data []byte) (Event, error)
	Match  func(config json.RawMessage, ev Event) (bool, error)
}

// Registry maps a trigger type to its Trigger.
type Registry map[model.TriggerType]Trigger

// NewTrigger builds a Trigger from a typed decoder and a pure matcher. The
// rule config is decoded into C; an empty or null config is the zero C.
func NewTrigger[C any, E Event](decode func([]byte) (E, error), match func(C, E) bool) Trigger {
	return Trigger{
		Decode: func(data []byte) (Event, error) {
			ev, err := decode(data)
			if err != nil {
				return nil, err
			}
			return ev, nil
		},
		Match: func(raw json.RawMessage, ev Event) (bool, error) {
			typed, ok := ev.(E)
			if !ok {
				return false, fmt.Errorf("unexpected event type %T", ev)
			}
			var cfg C
			if len(raw) > 0 && string(raw) != "null" {
				if err := json.Unmarshal(raw, &cfg); err != nil {
					return false, fmt.Errorf("decode trigger config: %w", err)
				}
			}
			return match(cfg, typed), nil
		},
	}
}

// DefaultRegistry returns the triggers supported out of the box.
func DefaultRegistry() Registry {
	return Registry{
		model.TriggerLaunchStatus:  NewTrigger(DecodeLaunchStatus, MatchLaunchStatus),
		model.TriggerNewsKeyword:   NewTrigger(DecodeNews, MatchNewsKeyword),
		model.TriggerContractAward: NewTrigger(DecodeContractAward, MatchContractAward),
	}
}
