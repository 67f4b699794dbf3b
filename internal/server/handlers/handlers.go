// Package handlers provides the non-webhook HTTP handlers of the dupewatch server.
package handlers

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/dupewatch/cmd/application"
)

// Handlers provides access to all HTTP handlers.
type Handlers struct {
	app       application.Application
	logger    *zerolog.Logger
	startTime time.Time
}

// New creates a new Handlers instance.
func New(app application.Application, logger *zerolog.Logger, startTime time.Time) *Handlers {
	return &Handlers{
		app:       app,
		logger:    logger,
		startTime: startTime,
	}
}
