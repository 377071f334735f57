package executor

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Request payload schemas. Validation happens before any vault call so
// malformed input never reaches the ledger.
const createOnChainSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["invoiceId", "recipientAddress", "amount"],
  "properties": {
    "invoiceId": {"type": "string", "minLength": 1, "maxLength": 128},
    "recipientAddress": {"type": "string", "minLength": 1, "maxLength": 128},
    "amount": {"type": "string", "pattern": "^[0-9]*\\.?[0-9]+$"},
    "fundVia": {"type": "string", "enum": ["manager", "self", "none"]}
  },
  "additionalProperties": false
}`

const triggerPaymentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["invoiceId"],
  "properties": {
    "invoiceId": {"type": "string", "minLength": 1, "maxLength": 128}
  },
  "additionalProperties": false
}`

var (
	createOnChainValidator  = mustCompileSchema("create-on-chain.json", createOnChainSchema)
	triggerPaymentValidator = mustCompileSchema("trigger-payment.json", triggerPaymentSchema)
)

func mustCompileSchema(name, src string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, strings.NewReader(src)); err != nil {
		panic(fmt.Sprintf("executor: add schema %s: %v", name, err))
	}
	return c.MustCompile(name)
}

// decodeAndValidate decodes a JSON body into out after validating it against
// the schema.
func decodeAndValidate(r io.Reader, schema *jsonschema.Schema, out any) error {
	raw, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("payload validation failed: %w", err)
	}
	return json.Unmarshal(raw, out)
}
