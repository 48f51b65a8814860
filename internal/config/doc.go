// Package config loads and validates the relay daemon's YAML configuration:
// collector identity, batching knobs, and alert rule definitions. The file
// can be watched for changes to hot-reload the rule set.
package config
