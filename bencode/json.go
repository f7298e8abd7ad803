package bencode

import "fmt"

// ToJSON converts v into values accepted by encoding/json. Byte strings must
// be valid UTF-8.
func ToJSON(v Value) (any, error) {
	switch v := v.(type) {
	case String:
		s, err := v.Text()
		if err != nil {
			return nil, err
		}
		return s, nil
	case Integer:
		return int64(v), nil
	case List:
		out := make([]any, 0, len(v))
		for i, item := range v {
			j, err := ToJSON(item)
			if err != nil {
				return nil, fmt.Errorf("list item %d: %w", i, err)
			}
			out = append(out, j)
		}
		return out, nil
	case Dict:
		out := make(map[string]any, len(v))
		for k, item := range v {
			if !validUTF8([]byte(k)) {
				return nil, fmt.Errorf("dictionary key %q: %w", k, ErrInvalidUTF8)
			}
			j, err := ToJSON(item)
			if err != nil {
				return nil, fmt.Errorf("dictionary key %q: %w", k, err)
			}
			out[k] = j
		}
		return out, nil
	default:
		return nil, fmt.Errorf("bencode: unknown value %T", v)
	}
}
