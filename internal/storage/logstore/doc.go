// Package logstore implements the Topic Tailer's storage layer: an
// append-only, per-LogID event log persisted in Pebble, plus the tailing
// goroutines that turn Pebble iteration into tailer.LogTailer's callback
// interface.
//
// # Overview
//
// Unlike a one-topic-per-partition log, a LogID here carries many
// interleaved topics: the topic identity travels in each record's header so
// a single physical reader can serve every topic routed onto that log. Keys
// are lexicographically ordered for efficient range scans:
//
//	log/{logid_be8}/m           (log metadata: lastSeq, minSeq)
//	log/{logid_be8}/e/{seq_be8} (entries)
//
// Records are stored as: varint(headerLen) | header | payload |
// crc32c(header|payload). The header is the topic's namespace and name,
// each varint-length-prefixed.
//
// # Tailing
//
// Store.StartReading spawns one goroutine per (LogID, readerID) that seeks
// to the requested sequence number, decodes records as they appear, and
// calls back into the Tailer via SendLogRecord. When a reader's starting
// position has already been trimmed by retention, the goroutine reports a
// retention gap via SendGapRecord instead of silently skipping ahead.
package logstore
