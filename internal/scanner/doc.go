// Package scanner defines the core types, capability interfaces, and task
// execution logic shared across the scanning subsystems.
package scanner
