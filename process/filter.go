// Copyright 2024. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package process

import (
	"strings"

	"github.com/ohler55/ojg/oj"

	"httpmock/logger"
)

// BenignSuffixes end the plain text lifecycle lines of a server
var BenignSuffixes = []string{"Accepted", "Closing", " started"}

var lifecycleMessages = []string{
	logger.MsgServerStarted,
	logger.MsgServerStopped,
	logger.MsgAcceptedConnection,
	logger.MsgClosingConnection,
}

// AnomalyError lists the unexpected lines written by the server
type AnomalyError struct {
	Lines []string
}

func (e *AnomalyError) Error() string {
	return "httpmock: unexpected server output:\n" + strings.Join(e.Lines, "\n")
}

// Filter drops empty and benign lines from captured error output
func Filter(output string) string {
	return strings.Join(anomalies(output), "\n")
}

func anomalies(output string) []string {
	if strings.TrimSpace(output) == "" {
		return nil
	}

	var lines []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || benign(line) {
			continue
		}
		lines = append(lines, line)
	}

	return lines
}

func benign(line string) bool {
	for _, suffix := range BenignSuffixes {
		if strings.HasSuffix(line, suffix) {
			return true
		}
	}

	for _, msg := range lifecycleMessages {
		if strings.Contains(line, msg) {
			return true
		}
	}

	// Structured log lines below warn level
	if strings.HasPrefix(line, "{") {
		v, err := oj.ParseString(line)
		if err != nil {
			return false
		}
		if fields, ok := v.(map[string]interface{}); ok {
			switch fields["level"] {
			case "debug", "info":
				return true
			}
		}
	}

	return false
}
