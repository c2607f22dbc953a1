// Package typing keeps the per-topic roster of users currently typing and
// broadcasts the full roster on every transition.
//
// The tracker does not debounce. Callers decide when to send start and stop;
// the tracker only maintains set membership. State is process-local and is
// lost on restart, which self-corrects on the next keystroke or disconnect.
package typing
