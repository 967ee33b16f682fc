// Package redis builds the go-redis client shared by the session store, the
// session locker and the task queue.
package redis
