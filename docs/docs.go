// Package docs holds the OpenAPI description served under /swagger when the
// binary is built with -tags=swagger. Regenerate with `make swagger-gen`.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/models": {
            "get": {
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "List models",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelsResponse"}}}
            }
        },
        "/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "Registry status",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}}
            }
        },
        "/predict/{model}": {
            "post": {
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["predict"],
                "summary": "Run a prediction",
                "parameters": [
                    {"type": "string", "description": "Model name", "name": "model", "in": "path", "required": true},
                    {"type": "file", "description": "Image file", "name": "file", "in": "formData", "required": true},
                    {"type": "string", "description": "Tabular features as JSON (fusion models)", "name": "payload", "in": "formData"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.PredictResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "504": {"description": "Gateway Timeout", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/unload/{model}": {
            "post": {
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "Unload a model",
                "parameters": [{"type": "string", "description": "Model name", "name": "model", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.UnloadResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "types.ModelStatus": {
            "type": "object",
            "properties": {
                "name": {"type": "string", "example": "classification"},
                "kind": {"type": "string", "example": "classification"},
                "loaded": {"type": "boolean", "example": true},
                "model_path": {"type": "string"},
                "active": {"type": "boolean", "example": true}
            }
        },
        "types.ModelsResponse": {
            "type": "object",
            "additionalProperties": {"$ref": "#/definitions/types.ModelStatus"}
        },
        "types.StatusResponse": {
            "type": "object",
            "properties": {
                "models": {"type": "array", "items": {"$ref": "#/definitions/types.ModelStatus"}},
                "active_model": {"type": "string"},
                "loads_total": {"type": "integer"},
                "load_failures_total": {"type": "integer"},
                "evictions_total": {"type": "integer"},
                "uptime_seconds": {"type": "integer"},
                "server_time_unix": {"type": "integer"}
            }
        },
        "types.PredictResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "example": "success"},
                "model": {"type": "string", "example": "classification"},
                "model_loaded": {"type": "boolean", "example": true},
                "result": {}
            }
        },
        "types.UnloadResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "example": "success"},
                "message": {"type": "string"}
            }
        },
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "code": {"type": "integer"},
                "kind": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "predictd API",
	Description:      "HTTP API for on-demand model inference with single-resident model eviction.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
