package approval

import "github.com/platinummonkey/opsdesk/pkg/storage"

// StripNulls returns a copy of doc without null-valued keys, at any depth.
// Objects nested in arrays are stripped too; null array elements are kept
// since removing them would shift positions. doc is not modified.
func StripNulls(doc storage.JSONObject) storage.JSONObject {
	if doc == nil {
		return nil
	}
	return storage.JSONObject(stripObject(doc))
}

func stripObject(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		out[k] = stripValue(v)
	}
	return out
}

func stripValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return stripObject(t)
	case storage.JSONObject:
		return stripObject(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			if item != nil {
				out[i] = stripValue(item)
			}
		}
		return out
	default:
		return v
	}
}
