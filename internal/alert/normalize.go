package alert

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"strconv"
	"strings"
	"time"
)

// envelopeKeys name the field Zabbix media types use to carry a JSON body as text.
var envelopeKeys = []string{"Message", "message"}

var subjectKeys = []string{"Subject", "subject"}

// alternates lists, per canonical field, the keys tried in order.
var alternates = map[string][]string{
	"event_id":  {"event_id", "eventid", "id"},
	"host":      {"host", "hostname", "host_name"},
	"problem":   {"problem", "name", "description"},
	"severity":  {"severity", "priority"},
	"status":    {"status"},
	"timestamp": {"timestamp", "clock"},
}

// Normalize builds an Alert from a raw webhook payload using the current time
// for any time-derived defaults.
func Normalize(raw map[string]any) Alert {
	return NormalizeAt(raw, time.Now())
}

// NormalizeAt is Normalize with an explicit ingestion time. It never fails and
// never modifies raw.
func NormalizeAt(raw map[string]any, now time.Time) Alert {
	fields := make(map[string]any, len(raw)+8)
	maps.Copy(fields, raw)

	unwrapEnvelope(fields)

	if !isSet(fields["problem"]) {
		if v, ok := first(fields, subjectKeys); ok {
			fields["problem"] = v
		}
	}

	details, _ := fields["details"].(map[string]any)
	if details != nil {
		for _, k := range []string{"item_id", "trigger_id"} {
			if !isSet(fields[k]) && isSet(details[k]) {
				fields[k] = details[k]
			}
		}
		if !isSet(fields["problem"]) && isSet(details["description"]) {
			fields["problem"] = details["description"]
		}
		if !isSet(fields["severity"]) && isSet(details["priority"]) {
			fields["severity"] = details["priority"]
		}
	}

	al := Alert{
		EventID:   stringField(fields, "event_id", fmt.Sprintf("auto-%d", now.UnixNano())),
		Host:      stringField(fields, "host", DefaultHost),
		Problem:   stringField(fields, "problem", DefaultProblem),
		Severity:  stringField(fields, "severity", DefaultSeverity),
		Status:    stringField(fields, "status", DefaultStatus),
		Timestamp: timestampField(fields, now),
		Details:   map[string]any{},
		Tags:      []Tag{},
	}
	al.ItemID, _ = scalarString(fields["item_id"])
	al.TriggerID, _ = scalarString(fields["trigger_id"])

	if details != nil {
		al.Details = maps.Clone(details)
	}
	al.Tags = coerceTags(fields["tags"])

	return al
}

// unwrapEnvelope merges a JSON object carried in the envelope field into
// fields. Keys already set at the top level win.
func unwrapEnvelope(fields map[string]any) {
	for _, key := range envelopeKeys {
		v, ok := fields[key]
		if !ok || v == nil {
			continue
		}
		switch env := v.(type) {
		case map[string]any:
			fillUnset(fields, env)
		case string:
			decoded, err := DecodePayload([]byte(strings.TrimSpace(env)))
			if obj, ok := decoded.(map[string]any); err == nil && ok && obj != nil {
				fillUnset(fields, obj)
			} else if !isSet(fields["problem"]) && strings.TrimSpace(env) != "" {
				fields["problem"] = env
			}
		}
		return
	}
}

// DecodePayload decodes a single JSON value. Numbers are kept as json.Number
// so large ids are not rounded through float64. Trailing data is an error.
func DecodePayload(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON value")
	}
	return v, nil
}

func fillUnset(dst, src map[string]any) {
	for k, v := range src {
		if !isSet(dst[k]) {
			dst[k] = v
		}
	}
}

func isSet(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	default:
		return true
	}
}

func first(fields map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := fields[k]; ok && isSet(v) {
			return v, true
		}
	}
	return nil, false
}

func stringField(fields map[string]any, canonical, def string) string {
	for _, k := range alternates[canonical] {
		if s, ok := scalarString(fields[k]); ok {
			return s
		}
	}
	return def
}

// scalarString renders JSON scalars as strings. Numbers never use exponent
// notation so large Zabbix ids survive intact.
func scalarString(v any) (string, bool) {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		s = strconv.Itoa(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	case bool:
		s = strconv.FormatBool(t)
	default:
		return "", false
	}
	if strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

func timestampField(fields map[string]any, now time.Time) int64 {
	for _, k := range alternates["timestamp"] {
		var ts int64
		switch t := fields[k].(type) {
		case float64:
			ts = int64(t)
		case int64:
			ts = t
		case int:
			ts = int64(t)
		case json.Number:
			if n, err := t.Int64(); err == nil {
				ts = n
			} else if f, err := t.Float64(); err == nil {
				ts = int64(f)
			}
		case string:
			s := strings.TrimSpace(t)
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				ts = n
			} else if f, err := strconv.ParseFloat(s, 64); err == nil {
				ts = int64(f)
			}
		}
		if ts > 0 {
			return ts
		}
	}
	return now.Unix()
}

func coerceTags(v any) []Tag {
	out := []Tag{}
	switch items := v.(type) {
	case []Tag:
		out = append(out, items...)
	case []any:
		for _, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			name, ok := scalarString(m["tag"])
			if !ok {
				continue
			}
			value, _ := scalarString(m["value"])
			out = append(out, Tag{Tag: name, Value: value})
		}
	}
	return out
}
