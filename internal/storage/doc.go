// Package storage journals remote log delivery outcomes.
//
// Only delivery metadata is persisted (request id, severity, kind,
// channel, outcome, failure class). Message bodies never reach the
// journal, so log content cannot leak through the persistence layer.
package storage
