// Package validation checks operator-supplied data files before a run starts.
package validation

import (
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"
)

// profileSchema constrains the operator's form-answer file. Platform drivers
// read these answers verbatim when filling submission forms, so a malformed
// file must fail the run at startup rather than mid-submission.
const profileSchema = `{
  "type": "object",
  "properties": {
    "full_name":  {"type": "string", "minLength": 1},
    "email":      {"type": "string", "pattern": "^[^@\\s]+@[^@\\s]+\\.[^@\\s]+$"},
    "phone":      {"type": "string"},
    "resume_path": {"type": "string", "minLength": 1},
    "summary":    {"type": "string"},
    "answers": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    }
  },
  "required": ["full_name", "email", "resume_path"],
  "additionalProperties": true
}`

// ValidateProfile loads and validates the profile answers file, returning the
// raw document for the platform drivers.
func ValidateProfile(path string) (map[string]interface{}, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(profileSchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return nil, fmt.Errorf("validate profile %s: %w", path, err)
	}
	if !result.Valid() {
		first := result.Errors()[0]
		return nil, fmt.Errorf("profile %s invalid: %s: %s (%d issues)",
			path, first.Field(), first.Description(), len(result.Errors()))
	}

	doc, err := gojsonschema.NewBytesLoader(raw).LoadJSON()
	if err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	obj, ok := doc.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("profile %s: top level must be an object", path)
	}
	return obj, nil
}
