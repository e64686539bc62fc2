// Package integration provides integration tests for the variant hub API
// server. These tests exercise the complete pipeline: file sources, refresh
// scheduling, normalization, priority merging and the HTTP query API.
package integration
