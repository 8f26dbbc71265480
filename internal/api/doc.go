// Package api exposes the transport webhook that accepts normalized user
// intents, plus operator endpoints for user, alert and market-cache
// inspection.
package api
