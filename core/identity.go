package core

import "strings"

// ParseSubscriptionName splits "<service>.<topic>" on the first separator.
// ok is false, and both parts empty, when the name has no separator.
func ParseSubscriptionName(name string) (service, topic string, ok bool) {
	service, topic, ok = strings.Cut(name, ".")
	if !ok {
		return "", "", false
	}
	return service, topic, true
}

// resolveExtraData copies the configured extra fields present in the request.
// Absent fields are omitted, never defaulted.
func resolveExtraData(cfg *ServiceConfig, req map[string]any) map[string]any {
	extra := map[string]any{}
	if cfg == nil {
		return extra
	}
	for _, field := range cfg.ExtraFields {
		if v, ok := req[field]; ok {
			extra[field] = v
		}
	}
	return extra
}
