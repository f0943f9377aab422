// Пакет api содержит OpenAPI контракт Access Module.
package api

import _ "embed"

// OpenAPISpec — OpenAPI 3.0 спецификация HTTP API.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
