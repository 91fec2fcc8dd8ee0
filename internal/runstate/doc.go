// Package runstate defines the run snapshot, the fold that derives it from
// the event log, and the legacy message-generation compatibility layer.
package runstate
