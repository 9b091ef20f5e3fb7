// Package config provides configuration loading and validation for the
// voice client: network/crypto settings, mixer tunables, device
// selection, and logging, each validated by a per-section Validate.
package config 