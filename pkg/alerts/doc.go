// Package alerts implements the rule evaluation engine: entries are matched
// against configured rules (API failures over rolling windows, slow
// responses, crash keywords, custom predicates) and resulting notifications
// fan out to subscriber channels, an optional callback, and an optional
// webhook.
package alerts
