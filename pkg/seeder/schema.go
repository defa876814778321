package seeder

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// seedSchema validates session seed files before they reach the store.
const seedSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["sessionId"],
	"additionalProperties": false,
	"properties": {
		"sessionId": {
			"type": "string",
			"minLength": 1
		},
		"players": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "name"],
				"additionalProperties": false,
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"name": {"type": "string", "minLength": 1}
				}
			}
		},
		"storyWords": {
			"type": "array",
			"items": {"type": "string"}
		},
		"activePlayerIndex": {
			"type": "integer",
			"minimum": 0
		}
	}
}`

// validateSeed checks a raw seed document against the schema and returns the
// validation failures, one message per violated constraint.
func validateSeed(data []byte) ([]string, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(seedSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to validate seed: %w", err)
	}

	if result.Valid() {
		return nil, nil
	}

	failures := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		failures = append(failures, desc.String())
	}
	return failures, nil
}
