package message

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Stringify renders a decoded JSON scalar as a correlation key. Numbers keep
// their JSON text (json.Number or float64 without exponent noise).
func Stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return ""
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
