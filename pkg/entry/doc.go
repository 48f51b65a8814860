// Package entry defines the structured record types consumed by the alert
// engine and the delivery pipeline. Entries form a closed set — network,
// navigation, database, plain — and are read-only once handed to the core.
package entry
