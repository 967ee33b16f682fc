// Package api exposes the chat service over HTTP and websocket: synchronous
// chats, the append-only task history, asynchronous chat tasks, the stock
// quote shortcut and Prometheus metrics. Every route except health and
// metrics sits behind the bearer auth middleware.
package api
