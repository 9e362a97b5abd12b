// Package router implements tailer.LogRouter: it maps a topic onto exactly
// one of a fixed number of physical logs.
package router

import (
	"fmt"
	"hash/fnv"

	"github.com/rzbill/tailer/internal/tailer"
)

// HashRouter routes topics onto logs by hashing (namespace, name) with
// FNV-1a and reducing mod the log count. Grounded on the partitioning
// technique the teacher uses for channel fan-out (crc32.ChecksumIEEE(key) %
// partitions); FNV-1a is used here instead since it is the stdlib hash
// built for exactly this (non-cryptographic, well-distributed, no
// allocation for short keys) and no pack dependency specializes in topic
// routing.
type HashRouter struct {
	numLogs uint64
}

// NewHashRouter builds a router over numLogs physical logs, numbered
// [0, numLogs).
func NewHashRouter(numLogs int) (*HashRouter, error) {
	if numLogs <= 0 {
		return nil, fmt.Errorf("router: numLogs must be positive, got %d", numLogs)
	}
	return &HashRouter{numLogs: uint64(numLogs)}, nil
}

// GetLogID implements tailer.LogRouter.
func (r *HashRouter) GetLogID(topic tailer.TopicUUID) (tailer.LogID, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(topic.Namespace))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(topic.Name))
	return tailer.LogID(h.Sum64() % r.numLogs), nil
}

// NumLogs reports how many physical logs this router distributes topics
// across.
func (r *HashRouter) NumLogs() int { return int(r.numLogs) }

// StaticRouter is a fixed topic-to-log assignment, useful for tests and for
// pinning a handful of high-traffic topics to their own log outside the
// hash-based default.
type StaticRouter struct {
	assignments map[tailer.TopicUUID]tailer.LogID
	fallback    tailer.LogRouter
}

// NewStaticRouter builds a StaticRouter that consults assignments first and
// falls back to fallback (which may be nil) for any other topic.
func NewStaticRouter(assignments map[tailer.TopicUUID]tailer.LogID, fallback tailer.LogRouter) *StaticRouter {
	m := make(map[tailer.TopicUUID]tailer.LogID, len(assignments))
	for k, v := range assignments {
		m[k] = v
	}
	return &StaticRouter{assignments: m, fallback: fallback}
}

// GetLogID implements tailer.LogRouter.
func (r *StaticRouter) GetLogID(topic tailer.TopicUUID) (tailer.LogID, error) {
	if id, ok := r.assignments[topic]; ok {
		return id, nil
	}
	if r.fallback != nil {
		return r.fallback.GetLogID(topic)
	}
	return 0, tailer.ErrNotFound
}
