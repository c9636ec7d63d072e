// Package types holds values shared by every sluice component.
package types //nolint:revive // types is a valid package name

// Version is the canonical project version reported by the CLI.
const Version = "0.1.0"
