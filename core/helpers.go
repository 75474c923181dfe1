package core

import "time"

func cloneTimePointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	clone := value.UTC()
	return &clone
}

func copyAnyMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]any, len(src))
	for key, value := range src {
		out[key] = value
	}
	return out
}

func mergeAnyMap(base map[string]any, overlay map[string]any) map[string]any {
	if len(base) == 0 {
		return copyAnyMap(overlay)
	}
	out := copyAnyMap(base)
	for key, value := range overlay {
		out[key] = value
	}
	return out
}
