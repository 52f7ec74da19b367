// Package timeouts defines timeout constants shared by the binaries.
package timeouts

import "time"

// Command caps the time a single slash command may spend in the attendance
// core and the store.
const Command = 5 * time.Second

// Connect limits how long startup waits for the database.
const Connect = 10 * time.Second

// Shutdown limits how long telemetry may take to flush on exit.
const Shutdown = 5 * time.Second
