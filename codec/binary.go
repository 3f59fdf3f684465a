package codec

// deconstruct returns a copy of v in which every []byte is replaced by a
// placeholder referencing its index in bufs. Only []any and map[string]any are
// walked; other values are left to the JSON encoder.
func deconstruct(v any, bufs *[][]byte) any {
	switch x := v.(type) {
	case []byte:
		num := len(*bufs)
		*bufs = append(*bufs, x)
		return map[string]any{"_placeholder": true, "num": num}
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = deconstruct(e, bufs)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = deconstruct(e, bufs)
		}
		return out
	default:
		return v
	}
}

// reconstruct replaces placeholders in a freshly decoded JSON value, in place.
func reconstruct(v any, bufs [][]byte) (any, error) {
	switch x := v.(type) {
	case []any:
		for i, e := range x {
			r, err := reconstruct(e, bufs)
			if err != nil {
				return nil, err
			}
			x[i] = r
		}
		return x, nil
	case map[string]any:
		if ph, _ := x["_placeholder"].(bool); ph {
			num, ok := x["num"].(float64)
			if !ok || num != float64(int(num)) || num < 0 || int(num) >= len(bufs) {
				return nil, malformed("bad placeholder %v", x["num"])
			}
			return bufs[int(num)], nil
		}
		for k, e := range x {
			r, err := reconstruct(e, bufs)
			if err != nil {
				return nil, err
			}
			x[k] = r
		}
		return x, nil
	default:
		return v, nil
	}
}
