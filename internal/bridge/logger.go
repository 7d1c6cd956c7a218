// Argos - Configuration-Driven Endpoint Monitoring Runtime
// Copyright 2026 Jorge S. (JorgeSuarezV)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

package bridge

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"

	"github.com/JorgeSuarezV/argos/internal/logging"
)

// watermillLogger routes Watermill's internal logging through the global
// zerolog logger so the bridge logs like the rest of the runtime.
type watermillLogger struct {
	fields watermill.LogFields
}

// newWatermillLogger builds the adapter used by the NATS publisher.
func newWatermillLogger() watermill.LoggerAdapter {
	return &watermillLogger{}
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	logger := logging.Logger()
	l.emit(logger.Error().Err(err), msg, fields)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	logger := logging.Logger()
	l.emit(logger.Info(), msg, fields)
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	logger := logging.Logger()
	l.emit(logger.Debug(), msg, fields)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	logger := logging.Logger()
	l.emit(logger.Trace(), msg, fields)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{fields: l.fields.Add(fields)}
}

func (l *watermillLogger) emit(event *zerolog.Event, msg string, fields watermill.LogFields) {
	for k, v := range l.fields {
		event = event.Interface(k, v)
	}
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}
