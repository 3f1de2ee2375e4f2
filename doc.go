// SPDX-FileCopyrightText: The go-smtpclient Authors
//
// SPDX-License-Identifier: MIT

// Package smtpclient provides an SMTP submission client for Go: session
// management with STARTTLS and implicit TLS, SMTP AUTH mechanism
// negotiation and multi-recipient mail transactions with per-recipient
// failure reporting.
package smtpclient

// VERSION is the client library version, reported by the mailsend command
const VERSION = "0.1.0"
