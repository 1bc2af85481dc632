// Package services bundles the constructed screenpilot services so that the
// HTTP server, the MCP server and the CLI share one set of instances.
package services
