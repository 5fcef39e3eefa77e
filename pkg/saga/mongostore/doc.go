// Package mongostore persists saga instances in a MongoDB collection, one
// document per instance keyed by correlation id. Updates filter on both _id
// and version, so a stale writer matches nothing and gets saga.ErrVersionConflict.
package mongostore
