package config

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// teamRegistrySchemaJSON constrains the shape of the team-registry document
// before it is decoded into []team.TeamConfig, catching malformed entries
// (missing teamName, unknown fields, bad grantPermission enum, out-of-range
// numbers) earlier and with a clearer message than a mapstructure decode
// error would. It does not require path and does not check local/remote
// consistency; a local team without a path is rejected later by
// team.Validate.
const teamRegistrySchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["teams"],
  "properties": {
    "teams": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["teamName"],
        "properties": {
          "teamName": {"type": "string", "minLength": 1, "maxLength": 100},
          "path": {"type": "string"},
          "remote": {"type": "string"},
          "remoteOptions": {
            "type": "object",
            "properties": {
              "port": {"type": "integer", "minimum": 1, "maximum": 65535},
              "identityFile": {"type": "string"},
              "passphrase": {"type": "string"},
              "connectTimeoutSeconds": {"type": "integer", "minimum": 0},
              "keepAliveIntervalSeconds": {"type": "integer", "minimum": 0},
              "strictHostKeyChecking": {"type": "boolean"}
            },
            "additionalProperties": false
          },
          "idleTimeoutSeconds": {"type": "integer", "minimum": 0},
          "skipPermissions": {"type": "boolean"},
          "allowedTools": {"type": "array", "items": {"type": "string"}},
          "disallowedTools": {"type": "array", "items": {"type": "string"}},
          "appendSystemPrompt": {"type": "string"},
          "grantPermission": {"enum": ["yes", "no", "ask", "forward", ""]}
        },
        "additionalProperties": false
      }
    },
    "pool": {
      "type": "object",
      "properties": {
        "maxProcesses": {"type": "integer", "minimum": 1},
        "healthSweepIntervalSeconds": {"type": "integer", "minimum": 1},
        "spawnTimeoutSeconds": {"type": "integer", "minimum": 1},
        "sessionInitTimeoutSeconds": {"type": "integer", "minimum": 1}
      },
      "additionalProperties": false
    }
  },
  "additionalProperties": false
}`

var compiledTeamRegistrySchema *jsonschema.Schema

func init() {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(teamRegistrySchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("config: invalid embedded team registry schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("team-registry.json", doc); err != nil {
		panic(fmt.Sprintf("config: add team registry schema resource: %v", err))
	}
	compiledTeamRegistrySchema, err = c.Compile("team-registry.json")
	if err != nil {
		panic(fmt.Sprintf("config: compile team registry schema: %v", err))
	}
}

// validateTeamRegistryDocument validates raw (already-decoded-to-any JSON
// document shape) config bytes against the team registry schema before
// viper ever unmarshals them into typed structs.
func validateTeamRegistryDocument(raw []byte) error {
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return fmt.Errorf("parse config document as JSON: %w", err)
	}
	if err := compiledTeamRegistrySchema.Validate(parsed); err != nil {
		return fmt.Errorf("team registry document failed schema validation: %w", err)
	}
	return nil
}
