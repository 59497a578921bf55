// Package scheduler implements the maintenance jobs that run outside the
// evaluation cycle: orphan reconciliation, retention purge of soft-deleted
// reminders, and the timing policy backfill.
//
// This file defines the shared types for the maintenance multiplexer. The
// MaintenancePayload is the JSON structure sent by EventBridge rules to the
// maintenance worker; the TaskType constant determines which service handles
// the request.
package scheduler

import "time"

// TaskType identifies which maintenance service should handle an EventBridge
// event.
type TaskType string

const (
	TaskReconcileOrphans TaskType = "reconcile_orphans"
	TaskPurgeReminders   TaskType = "purge_reminders"
	TaskBackfillTiming   TaskType = "backfill_timing"
)

// MaintenancePayload is the JSON payload sent by EventBridge to the
// maintenance worker. It identifies the task to execute and optionally
// overrides tuning parameters for manual invocation.
//
//	{
//	  "task": "purge_reminders",
//	  "reference_time": "2026-08-31T03:00:00Z",  // optional
//	  "retention_days": 90,                      // optional
//	  "page_size": 100,                          // optional
//	  "cursor": "rem_0042"                       // optional, backfill only
//	}
type MaintenancePayload struct {
	Task TaskType `json:"task"`
	// ReferenceTime allows manual invocation to specify a different "now"
	// for deterministic execution. If nil, the real clock is used.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
	RetentionDays int        `json:"retention_days,omitempty"`
	PageSize      int        `json:"page_size,omitempty"`
	Cursor        string     `json:"cursor,omitempty"`
}

// PurgeResult summarizes one retention purge pass.
type PurgeResult struct {
	Scanned int  `json:"scanned"`
	Purged  int  `json:"purged"`
	HasMore bool `json:"has_more"`
}

// BackfillResult summarizes one timing policy backfill pass.
type BackfillResult struct {
	Processed  int    `json:"processed"`
	Updated    int    `json:"updated"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
}
