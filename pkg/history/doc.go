// Package history stores tool invocation outcomes in SQLite.
//
// A Store is plugged into the executor as its Recorder, so every invocation,
// successful or not, leaves one row. A Pruner removes rows older than the
// configured retention window on a cron schedule.
//
//	store, err := history.Open(history.Config{Path: path, Logger: logger})
//	exec := toolexecutor.New(reg, handlers, toolexecutor.Options{Recorder: store})
//
//	pruner, err := history.NewPruner(store, "@daily", 30*24*time.Hour, logger)
//	pruner.Start()
//	defer pruner.Stop()
package history
