// Package swagger holds the OpenAPI document for the JSON API in the layout
// produced by swaggo/swag. Regenerate after changing handler annotations:
//
//	swag init -g internal/api/annotations.go -o docs/swagger --parseInternal
package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/admin/users": {
            "get": {
                "security": [{"BearerToken": []}],
                "description": "Returns all users in the system. Requires admin role.",
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "List all users (admin)",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.UserListResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/admin/users/{id}/role": {
            "put": {
                "security": [{"BearerToken": []}],
                "description": "Changes a user's role. Valid values: \"admin\", \"student\", \"user\". Requires admin role.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "Update user role (admin)",
                "parameters": [
                    {"type": "string", "description": "User ID", "name": "id", "in": "path", "required": true},
                    {"description": "New role", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/api.UpdateRoleRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.UserResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/auth/session": {
            "post": {
                "description": "Verifies an identity-provider ID token and sets the HttpOnly session cookie.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Session"],
                "summary": "Exchange a provider token for a session",
                "parameters": [
                    {
                        "description": "Identity-provider ID token",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"type": "object", "properties": {"token": {"type": "string"}}}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/auth.Identity"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            },
            "delete": {
                "tags": ["Session"],
                "summary": "End the session",
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/healthz": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.HealthResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/api.HealthResponse"}}
                }
            }
        },
        "/me": {
            "get": {
                "security": [{"BearerToken": []}],
                "description": "Returns the profile behind the caller's session credential.",
                "produces": ["application/json"],
                "tags": ["Me"],
                "summary": "Get current user",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.UserResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/me/progress": {
            "get": {
                "security": [{"BearerToken": []}],
                "produces": ["application/json"],
                "tags": ["Me"],
                "summary": "Get learning progress",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.ProgressResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            },
            "put": {
                "security": [{"BearerToken": []}],
                "description": "Replaces the caller's progress with the given JSON object (64 KiB max).",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Me"],
                "summary": "Replace learning progress",
                "parameters": [
                    {"description": "New progress", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/api.ProgressResponse"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.ProgressResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "413": {"description": "Request Entity Too Large", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "api.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string", "example": "missing_credential"},
                "error": {"type": "string", "example": "unauthorized"}
            }
        },
        "api.HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"}
            }
        },
        "api.ProgressResponse": {
            "type": "object",
            "properties": {
                "progress": {"type": "object"}
            }
        },
        "api.UpdateRoleRequest": {
            "type": "object",
            "properties": {
                "role": {"type": "string"}
            }
        },
        "api.UserListResponse": {
            "type": "object",
            "properties": {
                "users": {"type": "array", "items": {"$ref": "#/definitions/api.UserResponse"}}
            }
        },
        "api.UserResponse": {
            "type": "object",
            "properties": {
                "created_at": {"type": "string"},
                "display_name": {"type": "string"},
                "email": {"type": "string"},
                "id": {"type": "string"},
                "last_seen_at": {"type": "string"},
                "role": {"type": "string"}
            }
        },
        "auth.Identity": {
            "type": "object",
            "properties": {
                "display_name": {"type": "string"},
                "email": {"type": "string"},
                "id": {"type": "string"},
                "profile": {"type": "object"},
                "role": {"type": "string"},
                "subject": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "BearerToken": {
            "description": "Type \"Bearer\" followed by a space and your session credential.",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api",
	Schemes:          []string{},
	Title:            "LearnHub API",
	Description:      "Course site API. Sign in with POST /auth/session, which sets the session cookie; the same credential is accepted as a Bearer token.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
