package view

// LimitPayload returns a copy of the payload trimmed to the configured
// attribute nesting level: map values deeper than limit levels are dropped.
// A limit below zero disables trimming, a limit of zero drops the payload.
func LimitPayload(payload map[string]any, limit int) map[string]any {
	if limit < 0 {
		return copyPayload(payload)
	}
	if limit == 0 || payload == nil {
		return nil
	}
	return limitLevel(payload, limit)
}

func limitLevel(payload map[string]any, remaining int) map[string]any {
	res := make(map[string]any, len(payload))
	for k, v := range payload {
		if nested, ok := v.(map[string]any); ok {
			if remaining <= 1 {
				continue
			}
			res[k] = limitLevel(nested, remaining-1)
			continue
		}
		res[k] = v
	}
	return res
}

func copyPayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	res := make(map[string]any, len(payload))
	for k, v := range payload {
		if nested, ok := v.(map[string]any); ok {
			res[k] = copyPayload(nested)
			continue
		}
		res[k] = v
	}
	return res
}
