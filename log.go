package main

import "github.com/sirupsen/logrus"

// log is tagged with the "main" module so the easy-formatter's %module%
// field distinguishes CLI/lifecycle lines from internal/driver's own
// per-module logger.
var log = logrus.WithField("module", "main")
