// Package triage provides the passive signal triage core for ambient.
// It defines the Scheduler (cadence, snooze, change detection), the pure
// text pipeline (Normalize, Similarity, IsSkipApp), the Dispatcher that
// submits captures without blocking the loop, the Service that backs
// explicit user actions, and the Journal interface for capture history.
package triage
