// Package environment names the deployment environments the service
// distinguishes. The logger picks its defaults from it.
package environment
