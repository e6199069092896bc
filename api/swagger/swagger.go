package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "CampusIQ API",
        "description": "Permission request routing, escalation and audit tracking",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Requests", "description": "Permission request lifecycle"},
        {"name": "Dashboard", "description": "Per-user request counts"},
        {"name": "Escalations", "description": "Deadline sweep"}
    ],
    "paths": {
        "/requests": {
            "post": {
                "tags": ["Requests"],
                "summary": "Submit a permission request",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreatePermissionRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests/submitted": {
            "get": {
                "tags": ["Requests"],
                "summary": "List requests the caller submitted",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests/received": {
            "get": {
                "tags": ["Requests"],
                "summary": "List requests assigned to the caller",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests/recipients": {
            "get": {
                "tags": ["Requests"],
                "summary": "Users a new request can be addressed to",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests/bulk-forward": {
            "post": {
                "tags": ["Requests"],
                "summary": "Forward several requests at once",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/BulkForwardRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests/{id}": {
            "delete": {
                "tags": ["Requests"],
                "summary": "Withdraw a pending request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"}
                ],
                "responses": {
                    "204": {"description": "Deleted"},
                    "403": {"description": "Not the requester", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Request already decided", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests/{id}/forward-options": {
            "get": {
                "tags": ["Requests"],
                "summary": "Roles and users the assignee may forward to",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"name": "role", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Not the assignee", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests/{id}/forward": {
            "post": {
                "tags": ["Requests"],
                "summary": "Forward a request to a next-level role",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ForwardRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Not the assignee", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests/{id}/reassign": {
            "post": {
                "tags": ["Requests"],
                "summary": "Reassign a pending request within the department",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ReassignRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Request already decided", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests/{id}/approve": {
            "post": {
                "tags": ["Requests"],
                "summary": "Approve a pending request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"name": "payload", "in": "body", "schema": {"$ref": "#/definitions/DecisionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Request already decided", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests/{id}/reject": {
            "post": {
                "tags": ["Requests"],
                "summary": "Reject a pending request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"name": "payload", "in": "body", "schema": {"$ref": "#/definitions/DecisionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Request already decided", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests/{id}/track": {
            "get": {
                "tags": ["Requests"],
                "summary": "Audit trail of a request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Not a participant", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests/{id}/track/export": {
            "get": {
                "tags": ["Requests"],
                "summary": "Download the audit trail",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "Attachment", "schema": {"type": "file"}},
                    "400": {"description": "Unknown format", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/dashboard": {
            "get": {
                "tags": ["Dashboard"],
                "summary": "Request counts for the caller",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/escalations/run": {
            "post": {
                "tags": ["Escalations"],
                "summary": "Run one escalation sweep now",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Another sweep is running", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "CreatePermissionRequest": {
            "type": "object",
            "properties": {
                "target_user_id": {"type": "string"},
                "title": {"type": "string", "maxLength": 100},
                "reason": {"type": "string"},
                "from_date": {"type": "string", "format": "date"},
                "to_date": {"type": "string", "format": "date"},
                "is_urgent": {"type": "boolean"},
                "urgent_minutes": {"type": "integer"}
            },
            "required": ["target_user_id", "title", "reason", "from_date", "to_date"]
        },
        "ForwardRequest": {
            "type": "object",
            "properties": {
                "target_role": {"type": "string", "enum": ["proctor", "staff", "hod", "dean", "principal"]},
                "target_user_id": {"type": "string"}
            },
            "required": ["target_role", "target_user_id"]
        },
        "ReassignRequest": {
            "type": "object",
            "properties": {
                "target_user_id": {"type": "string"}
            },
            "required": ["target_user_id"]
        },
        "DecisionRequest": {
            "type": "object",
            "properties": {
                "note": {"type": "string", "maxLength": 500}
            }
        },
        "BulkForwardRequest": {
            "type": "object",
            "properties": {
                "request_ids": {"type": "array", "items": {"type": "integer"}},
                "target_role": {"type": "string"},
                "target_user_id": {"type": "string"}
            },
            "required": ["request_ids", "target_role", "target_user_id"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
