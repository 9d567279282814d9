package erc20

import (
	"encoding/json"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	xerrors "AgentTx-ERC20/internal/errors"
)

// parameterSchema checks the JSON shape only; value rules live in Validate.
var parameterSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"to", "amount", "tokenAddress"},
	"properties": map[string]any{
		"to":           map[string]any{"type": "string", "description": "recipient address"},
		"amount":       map[string]any{"type": "string", "description": "amount in whole token units, e.g. \"1.5\""},
		"tokenAddress": map[string]any{"type": "string", "description": "ERC-20 contract address"},
		"rpcUrl":       map[string]any{"type": "string", "description": "optional RPC endpoint"},
		"chainId":      map[string]any{"type": "integer", "description": "optional chain id"},
	},
}

var compiledSchema = mustCompileSchema(parameterSchema)

func mustCompileSchema(def map[string]any) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def))
	if err != nil {
		panic("compile erc20 parameter schema: " + err.Error())
	}
	return schema
}

// Schema returns the JSON schema of the tool parameters.
func Schema() map[string]any {
	return parameterSchema
}

// DecodeParameters validates raw against the parameter schema and decodes it.
// Shape errors are reported as INVALID_PARAMETERS; value rules are left to
// Validate so that precheck reports them with their own codes.
func DecodeParameters(raw []byte) (Parameters, error) {
	result, err := compiledSchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return Parameters{}, xerrors.Wrap(CodeInvalidParameters, err, "tool parameters are not valid JSON")
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return Parameters{}, xerrors.New(CodeInvalidParameters, "invalid tool parameters: "+strings.Join(details, "; "))
	}

	var params Parameters
	if err := json.Unmarshal(raw, &params); err != nil {
		return Parameters{}, xerrors.Wrap(CodeInvalidParameters, err, "")
	}
	return params, nil
}
