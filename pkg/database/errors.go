package database

import "errors"

// ErrNotReady is returned by Ping until the startup ping and hooks succeed,
// and again once shutdown begins.
var ErrNotReady = errors.New("database not ready")
