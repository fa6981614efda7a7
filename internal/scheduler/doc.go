// Package scheduler runs transcription tasks on a fixed pool of workers.
//
// Submitted chunks wait in one bounded FIFO queue. Workers take task ids from
// the queue and call the shared inference resource, which admits a single
// engine call at a time. Every task reports its lifecycle through a callback:
// queued, processing, progress and exactly one terminal update, in that order.
// A task is removed from the store as soon as its terminal update has been
// delivered.
package scheduler
