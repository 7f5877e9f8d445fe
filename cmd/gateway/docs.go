package main

// General API documentation for swaggo, describing the auxiliary HTTP
// surface only — the inference protocol itself is served on a
// separate TCP port using a binary framing format, not HTTP. Run
// `swag init` to regenerate docs/docs.go from these annotations.
//
// @title           edge-infer-gateway admin API
// @version         1.0
// @description     Health, readiness, and metrics endpoints for the edge-infer-gateway.
//
// @contact.name   edge-infer-gateway maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
