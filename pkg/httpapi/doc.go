// Package httpapi exposes the saga engine over HTTP.
//
//	POST /events                  submit an envelope to the configured transport
//	GET  /sagas/{correlationID}   read an instance
//	GET  /healthz                 liveness
//	GET  /readyz                  readiness of the backing stores
//
// Mount the result of New on an httpserver.Server.
package httpapi
