// Package repository holds alternative storage backends for the bridge.
// RedisSessions keeps sessions in redis so several bridge instances can share
// them while users stay in SQL.
package repository
