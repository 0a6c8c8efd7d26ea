// Package main provides the entry point for the settings management
// application. It runs a Fiber web server exposing a JSON API for
// creating, updating, deleting and auditing typed application settings.
// Settings are persisted through a pluggable storage adapter (relational
// via gorm, redis, s3, a remote peer or in-memory) and served to the
// application through an incrementally refreshed local cache.
package main
