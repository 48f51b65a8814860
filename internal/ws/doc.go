// Package ws streams alert notifications to WebSocket clients. Unlike a
// periodic snapshot feed, notifications are events: the hub forwards each
// one to every connected client as it is published.
package ws
