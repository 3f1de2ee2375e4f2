// SPDX-FileCopyrightText: The go-smtpclient Authors
//
// SPDX-License-Identifier: MIT

// Package log implements the logger interface used for the protocol debug
// log of the go-smtpclient package
package log

// Level is a type wrapper for the log level
type Level int

const (
	// LevelError is the lowest log level, covering only errors
	LevelError Level = iota

	// LevelWarn adds warnings
	LevelWarn

	// LevelInfo adds informational messages
	LevelInfo

	// LevelDebug is the highest log level, including the full
	// client/server dialogue
	LevelDebug
)

const (
	DirServerToClient Direction = iota // Server to Client communication
	DirClientToServer                  // Client to Server communication
)

const (
	// DirString is a constant used for the structured logger
	DirString = "direction"

	// DirFromString is a constant used for the structured logger
	DirFromString = "from"

	// DirToString is a constant used for the structured logger
	DirToString = "to"
)

// Direction is a type wrapper for the direction a debug log message goes
type Direction int

// Log represents a log message type that holds a log Direction, a Format
// string and a slice of Messages
type Log struct {
	Direction Direction
	Format    string
	Messages  []interface{}
}

// Logger is the log interface for go-smtpclient
type Logger interface {
	Debugf(Log)
	Infof(Log)
	Warnf(Log)
	Errorf(Log)
}

// directionPrefix returns a prefix string depending on the direction of
// the log message
func (l Log) directionPrefix() string {
	if l.Direction == DirServerToClient {
		return "S <-- C:"
	}
	return "C --> S:"
}

// directionFrom returns the sender side of the log message
func (l Log) directionFrom() string {
	if l.Direction == DirServerToClient {
		return "server"
	}
	return "client"
}

// directionTo returns the receiving side of the log message
func (l Log) directionTo() string {
	if l.Direction == DirServerToClient {
		return "client"
	}
	return "server"
}
