package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Course Eligibility API",
        "description": "Validates course enrollment eligibility against prerequisite, corequisite and restriction rules.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "tags": [
        {
            "name": "Validations",
            "description": "Enrollment eligibility validation"
        },
        {
            "name": "Rules",
            "description": "Course rules and rule activation"
        },
        {
            "name": "Dependencies",
            "description": "Circular prerequisite detection"
        },
        {
            "name": "Exceptions",
            "description": "Overrides, waivers and their approval"
        }
    ],
    "paths": {
        "/validations": {
            "post": {
                "tags": [
                    "Validations"
                ],
                "summary": "Validate enrollment eligibility",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "201": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "default": {
                        "description": "Error",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/ValidateEnrollmentRequest"
                        }
                    }
                ]
            }
        },
        "/validations/current": {
            "get": {
                "tags": [
                    "Validations"
                ],
                "summary": "Current validation result",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "default": {
                        "description": "Error",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "studentId",
                        "in": "query",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "courseId",
                        "in": "query",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "termId",
                        "in": "query",
                        "required": true,
                        "type": "string"
                    }
                ]
            }
        },
        "/validations/history": {
            "get": {
                "tags": [
                    "Validations"
                ],
                "summary": "Validation history",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "default": {
                        "description": "Error",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "studentId",
                        "in": "query",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "courseId",
                        "in": "query",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "termId",
                        "in": "query",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "limit",
                        "in": "query",
                        "required": false,
                        "type": "integer"
                    }
                ]
            }
        },
        "/validations/{id}": {
            "get": {
                "tags": [
                    "Validations"
                ],
                "summary": "Get a validation result",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "default": {
                        "description": "Error",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ]
            }
        },
        "/validations/{id}/export": {
            "get": {
                "tags": [
                    "Validations"
                ],
                "summary": "Download a validation report",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "default": {
                        "description": "Error",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "format",
                        "in": "query",
                        "required": false,
                        "type": "string"
                    }
                ]
            }
        },
        "/courses/{id}/rules": {
            "get": {
                "tags": [
                    "Rules"
                ],
                "summary": "Rules gating a course",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "default": {
                        "description": "Error",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "asOf",
                        "in": "query",
                        "required": false,
                        "type": "string"
                    }
                ]
            }
        },
        "/requirements/{id}/activate": {
            "post": {
                "tags": [
                    "Rules"
                ],
                "summary": "Activate a prerequisite requirement",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "default": {
                        "description": "Error",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ]
            }
        },
        "/courses/{id}/dependency": {
            "get": {
                "tags": [
                    "Dependencies"
                ],
                "summary": "Latest dependency detection for a course",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "default": {
                        "description": "Error",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ]
            }
        },
        "/courses/{id}/dependency-scan": {
            "post": {
                "tags": [
                    "Dependencies"
                ],
                "summary": "Detect circular prerequisites for a course",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "default": {
                        "description": "Error",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ]
            }
        },
        "/dependency-scans": {
            "post": {
                "tags": [
                    "Dependencies"
                ],
                "summary": "Scan the catalog for circular prerequisites",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "default": {
                        "description": "Error",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/circular-dependencies/{id}/resolve": {
            "post": {
                "tags": [
                    "Dependencies"
                ],
                "summary": "Resolve a circular dependency finding",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "default": {
                        "description": "Error",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/ResolveDependencyRequest"
                        }
                    }
                ]
            }
        },
        "/overrides": {
            "post": {
                "tags": [
                    "Exceptions"
                ],
                "summary": "Request a prerequisite override",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "201": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "default": {
                        "description": "Error",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/CreateOverrideRequest"
                        }
                    }
                ]
            }
        },
        "/overrides/{id}": {
            "get": {
                "tags": [
                    "Exceptions"
                ],
                "summary": "Get an override with its approval steps",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "default": {
                        "description": "Error",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ]
            }
        },
        "/overrides/{id}/steps/{stepId}/decision": {
            "post": {
                "tags": [
                    "Exceptions"
                ],
                "summary": "Decide an approval step",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "default": {
                        "description": "Error",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "stepId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/StepDecisionRequest"
                        }
                    }
                ]
            }
        },
        "/overrides/{id}/review": {
            "post": {
                "tags": [
                    "Exceptions"
                ],
                "summary": "Record a periodic override review",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "default": {
                        "description": "Error",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/ReviewOverrideRequest"
                        }
                    }
                ]
            }
        },
        "/waivers": {
            "post": {
                "tags": [
                    "Exceptions"
                ],
                "summary": "Request a prerequisite waiver",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "201": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "default": {
                        "description": "Error",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/CreateWaiverRequest"
                        }
                    }
                ]
            }
        },
        "/waivers/{id}/decision": {
            "post": {
                "tags": [
                    "Exceptions"
                ],
                "summary": "Approve or reject a waiver",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "default": {
                        "description": "Error",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/WaiverDecisionRequest"
                        }
                    }
                ]
            }
        },
        "/health": {
            "get": {
                "summary": "Liveness check",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {
                        "description": "Ready"
                    },
                    "503": {
                        "description": "A dependency is unavailable"
                    }
                }
            }
        },
        "/metrics": {
            "get": {
                "summary": "Prometheus metrics",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        }
    },
    "definitions": {
        "ValidateEnrollmentRequest": {
            "type": "object",
            "required": [
                "studentId",
                "courseId",
                "termId"
            ],
            "properties": {
                "studentId": {
                    "type": "string"
                },
                "courseId": {
                    "type": "string"
                },
                "termId": {
                    "type": "string"
                },
                "asOf": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        },
        "ResolveDependencyRequest": {
            "type": "object",
            "properties": {
                "note": {
                    "type": "string"
                }
            }
        },
        "ApprovalStepRequest": {
            "type": "object",
            "required": [
                "approverRole"
            ],
            "properties": {
                "approverRole": {
                    "type": "string",
                    "enum": [
                        "ADMIN",
                        "REGISTRAR",
                        "ADVISOR"
                    ]
                },
                "assignedTo": {
                    "type": "string"
                },
                "isMandatory": {
                    "type": "boolean"
                },
                "dueDate": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        },
        "CreateOverrideRequest": {
            "type": "object",
            "required": [
                "studentId",
                "courseId",
                "targetType",
                "scope",
                "reason"
            ],
            "properties": {
                "studentId": {
                    "type": "string"
                },
                "courseId": {
                    "type": "string"
                },
                "termId": {
                    "type": "string"
                },
                "targetType": {
                    "type": "string",
                    "enum": [
                        "PREREQUISITE_RULE",
                        "PREREQUISITE_REQUIREMENT",
                        "COREQUISITE_RULE",
                        "RESTRICTION",
                        "ALL_PREREQUISITES"
                    ]
                },
                "targetId": {
                    "type": "string"
                },
                "scope": {
                    "type": "string",
                    "enum": [
                        "COMPLETE",
                        "PARTIAL"
                    ]
                },
                "conditions": {
                    "type": "array",
                    "items": {
                        "type": "string"
                    }
                },
                "reason": {
                    "type": "string"
                },
                "expiresAt": {
                    "type": "string",
                    "format": "date-time"
                },
                "effectiveFrom": {
                    "type": "string",
                    "format": "date-time"
                },
                "requiresPeriodicReview": {
                    "type": "boolean"
                },
                "nextReviewDate": {
                    "type": "string",
                    "format": "date-time"
                },
                "steps": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/ApprovalStepRequest"
                    }
                }
            }
        },
        "StepDecisionRequest": {
            "type": "object",
            "required": [
                "decision"
            ],
            "properties": {
                "decision": {
                    "type": "string",
                    "enum": [
                        "APPROVE",
                        "REJECT",
                        "DELEGATE"
                    ]
                },
                "delegateTo": {
                    "type": "string"
                },
                "comment": {
                    "type": "string"
                }
            }
        },
        "ReviewOverrideRequest": {
            "type": "object",
            "required": [
                "nextReviewDate"
            ],
            "properties": {
                "nextReviewDate": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        },
        "CreateWaiverRequest": {
            "type": "object",
            "required": [
                "studentId",
                "courseId",
                "targetType",
                "scope",
                "reason"
            ],
            "properties": {
                "studentId": {
                    "type": "string"
                },
                "courseId": {
                    "type": "string"
                },
                "termId": {
                    "type": "string"
                },
                "targetType": {
                    "type": "string",
                    "enum": [
                        "PREREQUISITE_RULE",
                        "PREREQUISITE_REQUIREMENT",
                        "COREQUISITE_RULE",
                        "RESTRICTION",
                        "ALL_PREREQUISITES"
                    ]
                },
                "targetId": {
                    "type": "string"
                },
                "scope": {
                    "type": "string",
                    "enum": [
                        "COMPLETE",
                        "PARTIAL"
                    ]
                },
                "conditions": {
                    "type": "array",
                    "items": {
                        "type": "string"
                    }
                },
                "reason": {
                    "type": "string"
                },
                "expiresAt": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        },
        "WaiverDecisionRequest": {
            "type": "object",
            "required": [
                "decision"
            ],
            "properties": {
                "decision": {
                    "type": "string",
                    "enum": [
                        "APPROVE",
                        "REJECT"
                    ]
                }
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {
                    "type": "string"
                },
                "message": {
                    "type": "string"
                },
                "status": {
                    "type": "integer"
                }
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {
                    "type": "object"
                },
                "error": {
                    "$ref": "#/definitions/APIError"
                },
                "meta": {
                    "type": "object"
                }
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
