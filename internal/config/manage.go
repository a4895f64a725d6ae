package config

import (
	"fmt"
	"strconv"
)

// KV is a displayable config entry; secret values are redacted.
type KV struct {
	Key   string
	Value string
}

// ShowAll returns every known config key and its effective value, in spec
// order, with secrets redacted.
func ShowAll(cfg Config) []KV {
	out := make([]KV, 0, len(specs))
	for _, spec := range specs {
		v := fmt.Sprintf("%v", spec.extract(cfg))
		if spec.secret && v != "" {
			v = "********"
		}
		out = append(out, KV{Key: spec.key, Value: v})
	}
	return out
}

// SetKey writes a single config value to the file backend, validating the
// key name and value type against the spec table.
func SetKey(key, value string) error {
	return setKeyOn(newFileBackend(configFilePath()), key, value)
}

func setKeyOn(b Backend, key, value string) error {
	for _, spec := range specs {
		if spec.key != key {
			continue
		}
		switch spec.typ {
		case kInt:
			i, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("%s expects an integer: %w", key, err)
			}
			return b.SetInt(key, i)
		case kFloat:
			if _, err := strconv.ParseFloat(value, 64); err != nil {
				return fmt.Errorf("%s expects a number: %w", key, err)
			}
			return b.SetString(key, value)
		default:
			return b.SetString(key, value)
		}
	}
	return fmt.Errorf("unknown config key %q", key)
}
