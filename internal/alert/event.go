package alert

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"

	"spacenexus/internal/format"
)

// Event is an incoming occurrence that alert rules are matched against.
type Event interface {
	// Notification returns the human-readable title and message for deliveries.
	Notification() (title, message string)
	// Payload returns every field of the event, including pass-through extras.
	Payload() map[string]any
}

// LaunchStatusEvent reports a status change of a scheduled launch.
type LaunchStatusEvent struct {
	Provider    string
	Status      string
	MissionName string
	Extra       map[string]any
}

// Notification implements Event.
func (e LaunchStatusEvent) Notification() (string, string) {
	title := "Launch Update: " + e.Provider
	message := fmt.Sprintf("%s launch status changed to %q", e.Provider, e.Status)
	if e.MissionName != "" {
		message += " for " + e.MissionName
	}
	return title, message
}

// Payload implements Event.
func (e LaunchStatusEvent) Payload() map[string]any {
	p := cloneExtra(e.Extra, 3)
	p["provider"] = e.Provider
	p["status"] = e.Status
	if e.MissionName != "" {
		p["missionName"] = e.MissionName
	}
	return p
}

// DecodeLaunchStatus parses a launch status event. provider and status are
// required; any other field is kept in Extra.
func DecodeLaunchStatus(data []byte) (LaunchStatusEvent, error) {
	var ev LaunchStatusEvent
	fields, err := decodeFields(data)
	if err != nil {
		return ev, err
	}
	if ev.Provider, err = takeString(fields, "provider"); err != nil {
		return ev, err
	}
	if ev.Status, err = takeString(fields, "status"); err != nil {
		return ev, err
	}
	if ev.MissionName, err = takeString(fields, "missionName"); err != nil {
		return ev, err
	}
	if ev.Provider == "" || ev.Status == "" {
		return ev, errors.New("launch status event requires provider and status")
	}
	ev.Extra = fields
	return ev, nil
}

// NewsEvent is a newly published news article.
type NewsEvent struct {
	Title   string
	Summary string
	URL     string
	Source  string
	Extra   map[string]any
}

// Notification implements Event.
func (e NewsEvent) Notification() (string, string) {
	title := "News Alert: " + e.Title
	if e.Summary != "" {
		return title, format.Excerpt(e.Summary, 300)
	}
	if e.Source != "" {
		return title, "New article from " + e.Source
	}
	return title, "New article published"
}

// Payload implements Event.
func (e NewsEvent) Payload() map[string]any {
	p := cloneExtra(e.Extra, 4)
	p["title"] = e.Title
	setNonEmpty(p, "summary", e.Summary)
	setNonEmpty(p, "url", e.URL)
	setNonEmpty(p, "source", e.Source)
	return p
}

// DecodeNews parses a news event. title is required.
func DecodeNews(data []byte) (NewsEvent, error) {
	var ev NewsEvent
	fields, err := decodeFields(data)
	if err != nil {
		return ev, err
	}
	for key, dst := range map[string]*string{
		"title":   &ev.Title,
		"summary": &ev.Summary,
		"url":     &ev.URL,
		"source":  &ev.Source,
	} {
		if *dst, err = takeString(fields, key); err != nil {
			return ev, err
		}
	}
	if ev.Title == "" {
		return ev, errors.New("news event requires title")
	}
	ev.Extra = fields
	return ev, nil
}

// ContractAwardEvent is a government contract awarded to a company.
// Amount is nil when undisclosed.
type ContractAwardEvent struct {
	Company string
	Agency  string
	Title   string
	Amount  *float64
	Extra   map[string]any
}

// Notification implements Event.
func (e ContractAwardEvent) Notification() (string, string) {
	title := fmt.Sprintf("Contract Award: %s", e.Company)
	message := fmt.Sprintf("%s received a %s contract", e.Company, format.AwardAmount(e.Amount))
	if e.Agency != "" {
		message += " from " + e.Agency
	}
	if e.Title != "" {
		message += ": " + e.Title
	}
	return title, message
}

// Payload implements Event.
func (e ContractAwardEvent) Payload() map[string]any {
	p := cloneExtra(e.Extra, 4)
	p["company"] = e.Company
	setNonEmpty(p, "agency", e.Agency)
	setNonEmpty(p, "title", e.Title)
	// Decoded events keep the raw amount in Extra.
	if _, ok := p["amount"]; !ok {
		if e.Amount != nil {
			p["amount"] = *e.Amount
		} else {
			p["amount"] = nil
		}
	}
	return p
}

// DecodeContractAward parses a contract award event. company is required.
// The raw amount stays in Extra.
func DecodeContractAward(data []byte) (ContractAwardEvent, error) {
	var ev ContractAwardEvent
	fields, err := decodeFields(data)
	if err != nil {
		return ev, err
	}
	for key, dst := range map[string]*string{
		"company": &ev.Company,
		"agency":  &ev.Agency,
		"title":   &ev.Title,
	} {
		if *dst, err = takeString(fields, key); err != nil {
			return ev, err
		}
	}
	switch v := fields["amount"].(type) {
	case nil:
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return ev, fmt.Errorf("field amount: %w", err)
		}
		ev.Amount = &f
	default:
		return ev, fmt.Errorf("field amount: expected number, got %T", v)
	}
	if ev.Company == "" {
		return ev, errors.New("contract award event requires company")
	}
	ev.Extra = fields
	return ev, nil
}

// decodeFields parses a JSON object keeping numbers as json.Number, so
// integers beyond float64 precision pass through unchanged.
func decodeFields(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if fields == nil {
		return nil, errors.New("decode event: expected a JSON object")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("decode event: unexpected data after object")
	}
	return fields, nil
}

// takeString removes a string key from fields and returns its value. A
// missing key yields "". A null key yields "" and stays in fields.
func takeString(fields map[string]any, key string) (string, error) {
	v, ok := fields[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %s: expected string, got %T", key, v)
	}
	delete(fields, key)
	return s, nil
}

func setNonEmpty(p map[string]any, key, value string) {
	if value != "" {
		p[key] = value
	}
}

func cloneExtra(extra map[string]any, known int) map[string]any {
	p := make(map[string]any, len(extra)+known)
	maps.Copy(p, extra)
	return p
}
