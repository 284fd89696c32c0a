package legacy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stanstork/formvault-api/internal/models"
)

// identityKeys are checked in order for the submitter's address, after keys
// have been normalized.
var identityKeys = []string{"email", "e_mail", "email_address"}

const defaultStatus = "publish"

var keyReplacer = strings.NewReplacer(" ", "_", "-", "_")

// NormalizeKey lower-cases and trims a legacy field name and turns spaces
// and dashes into underscores.
func NormalizeKey(name string) string {
	return keyReplacer.Replace(strings.ToLower(strings.TrimSpace(name)))
}

// Transform converts a legacy row into an entry of the new schema.
func Transform(le models.LegacyEntry) (models.Entry, error) {
	var raw models.Fields
	if err := json.Unmarshal(le.Data, &raw); err != nil {
		return models.Entry{}, fmt.Errorf("legacy entry %d: decode payload: %w", le.ID, err)
	}

	fields := rekey(raw)
	status := strings.TrimSpace(le.Status)
	if status == "" {
		status = defaultStatus
	}
	legacyID := le.ID
	return models.Entry{
		FormID:    le.FormID,
		Status:    status,
		Identity:  identity(fields),
		Fields:    fields,
		LegacyID:  &legacyID,
		CreatedAt: le.CreatedAt,
	}, nil
}

// rekey normalizes every key, recursing into nested objects. When two keys
// normalize to the same name the first one wins.
func rekey(in models.Fields) models.Fields {
	out := make(models.Fields, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, f := range in {
		name := NormalizeKey(f.Name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		value := f.Value
		if nested, ok := value.(models.Fields); ok {
			value = rekey(nested)
		}
		out = append(out, models.Field{Name: name, Value: value})
	}
	return out
}

func identity(fields models.Fields) string {
	for _, key := range identityKeys {
		v, ok := fields.Get(key)
		if !ok || v == nil {
			continue
		}
		if id := strings.ToLower(strings.TrimSpace(models.FormatValue(v))); id != "" {
			return id
		}
	}
	return ""
}
