// Package logging wires up structured logging for the gateway. Every
// request gets a *logrus.Entry pre-loaded with its request id; the
// chat-completions handler adds provider/model fields once the route is
// resolved, so a single log line can always be traced back to one client
// request.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds the process-wide logrus.Logger from the configured level and
// format. format is either "json" (logrus.JSONFormatter, for shipping to a
// log aggregator) or "pretty" (logrus.TextFormatter with colors, for local
// development) — the same two-mode split the rest of the pack's services
// offer.
func New(level, format string) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(lvl)

	if format == "pretty" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	return logger, nil
}

// ForRequest returns a child entry carrying the request id field, so every
// log call during that request's lifetime is attributable without the
// caller re-specifying it.
func ForRequest(base *logrus.Logger, requestID string) *logrus.Entry {
	return base.WithField("request_id", requestID)
}
