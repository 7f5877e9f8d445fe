// Package docs holds the generated Swagger specification for the
// gateway's auxiliary HTTP surface. In a full build this file is
// produced by `swag init` from the annotations in cmd/gateway/docs.go;
// it is checked in here so /swagger/* serves without a codegen step
// at build time.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "description": "Auxiliary HTTP surface for the edge-infer-gateway: health, readiness, and metrics. The inference protocol itself is served on a separate TCP port using a binary framing format, not HTTP.",
        "title": "edge-infer-gateway admin API",
        "contact": {},
        "version": "1.0"
    },
    "basePath": "/",
    "paths": {
        "/healthz": {
            "get": {
                "description": "Always returns 200 once the process is up.",
                "produces": ["text/plain"],
                "summary": "Liveness probe",
                "responses": {
                    "200": {"description": "ok"}
                }
            }
        },
        "/readyz": {
            "get": {
                "description": "Returns 200 once the gateway has finished initializing and is accepting inference connections.",
                "produces": ["text/plain"],
                "summary": "Readiness probe",
                "responses": {
                    "200": {"description": "ready"},
                    "503": {"description": "not ready"}
                }
            }
        },
        "/metrics": {
            "get": {
                "description": "Plaintext request/error counters.",
                "produces": ["text/plain"],
                "summary": "Request counters",
                "responses": {
                    "200": {"description": "eig_requests_total N\neig_errors_total N"}
                }
            }
        }
    }
}`

// SwaggerInfo registers the spec above under swag's default instance
// name, the same registration pattern `swag init` emits.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "edge-infer-gateway admin API",
	Description:      "Auxiliary HTTP surface for the edge-infer-gateway.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
