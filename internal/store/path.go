package store

import (
	"encoding/json"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// Lookup reads a field using JSONPath syntax ($.foo.bar, $.items[0].id,
// $.items[*].id). Plain gjson paths (foo.bar, arr.#) are accepted as well.
func (d Document) Lookup(path string) (any, bool) {
	body, err := json.Marshal(d)
	if err != nil {
		return nil, false
	}
	value := gjson.GetBytes(body, convertJSONPath(path))
	if !value.Exists() {
		return nil, false
	}
	return value.Value(), true
}

// Extract resolves every rule (name -> path) and reports all missing paths
// together.
func (d Document) Extract(rules map[string]string) (map[string]any, error) {
	if len(rules) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(d)
	if err != nil {
		return nil, errors.Wrap(err, "encoding document")
	}

	result := make(map[string]any, len(rules))
	var errs *multierror.Error
	for name, path := range rules {
		value := gjson.GetBytes(body, convertJSONPath(path))
		if !value.Exists() {
			errs = multierror.Append(errs, errors.Errorf("path %q not found for %q", path, name))
			continue
		}
		result[name] = value.Value()
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return result, nil
}

// convertJSONPath converts JSONPath syntax to gjson path format.
// $.items[0].id -> items.0.id, $.data[*].name -> data.#.name
func convertJSONPath(path string) string {
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")

	var b strings.Builder
	for i := 0; i < len(path); i++ {
		if path[i] != '[' {
			b.WriteByte(path[i])
			continue
		}
		end := strings.IndexByte(path[i:], ']')
		if end < 0 {
			b.WriteString(path[i:])
			break
		}
		content := path[i+1 : i+end]
		if content == "*" {
			content = "#"
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(content)
		i += end
	}
	return b.String()
}
