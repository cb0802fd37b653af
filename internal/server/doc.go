// Package server exposes the gateway and budget monitor over HTTP. The API
// is a thin translation layer: it parses requests, calls the gateway, and
// renders structured errors with their mapped status codes. No storage
// decisions are made here.
package server
