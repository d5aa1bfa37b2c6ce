// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/roshan-srin/nidata/pkg/fetcher"
)

// BaseFields returns the action and dataset fields every entry carries.
func BaseFields(action, dataset string) logrus.Fields {
	f := logrus.Fields{"action": action}
	if dataset != "" {
		f["dataset"] = dataset
	}
	return f
}

// EventFields describes a fetch progress event.
func EventFields(ev fetcher.ProgressEvent) logrus.Fields {
	f := BaseFields(ev.Event, ev.Dataset)
	if ev.Path != "" {
		f["path"] = ev.Path
	}
	if ev.URL != "" {
		f["url"] = ev.URL
	}
	if ev.Total > 0 {
		f["total"] = ev.Total
	}
	if ev.Downloaded > 0 {
		f["downloaded"] = ev.Downloaded
	}
	if ev.Attempt > 0 {
		f["attempt"] = ev.Attempt
	}
	return f
}

// LogEvent logs a progress event: warnings and errors at their level,
// everything else at debug.
func LogEvent(logger logrus.FieldLogger, ev fetcher.ProgressEvent) {
	entry := logger.WithFields(EventFields(ev))
	switch ev.Level {
	case "warn":
		entry.Warn(ev.Message)
	case "error":
		entry.Error(ev.Message)
	default:
		entry.Debug(ev.Message)
	}
}
