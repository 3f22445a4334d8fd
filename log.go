package rlbridge

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// newSessionID assigns a per-bridge-instance correlation id. The wire
// protocol carries no session id of its own — Non-goals rule out
// multi-client fan-out, so there is exactly one session per rendezvous
// directory — so the server and client of one session each log their own,
// different id; the shared rendezvous field is what ties the two sides'
// logs together (SPEC_FULL.md §4.8).
func newSessionID() string {
	return uuid.NewString()
}

// sessionLogger returns a logger pre-populated with fields common to every
// log line this bridge instance emits.
func sessionLogger(base *logrus.Logger, dir, sessionID, role string) *logrus.Entry {
	return base.WithFields(logrus.Fields{
		"rendezvous": dir,
		"session":    sessionID,
		"role":       role,
	})
}
