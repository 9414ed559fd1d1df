package blockctl

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/aperture-controls/blockctl/ctrl"
)

// GetState captures the controller's settable state as a list of command
// lines that SetState can replay later. Attributes and metadata come
// first so that restoring them cannot clobber a table or configuration
// value written afterwards.
//
// Like GetChanges, this relies on per-connection change tracking: issue
// it on a fresh ControlConnection (or an otherwise quiet Client) to get
// a complete snapshot rather than a delta.
func (c *Commands) GetState(ctx context.Context) ([]string, error) {
	var state []string

	for _, group := range []ChangeGroup{ChangesAttr, ChangesConfig} {
		changes, err := c.GetChanges(ctx, group)
		if err != nil {
			return nil, err
		}
		state = append(state, sortedAssignments(changes.Values)...)
	}

	tables, err := c.GetChanges(ctx, ChangesTable)
	if err != nil {
		return nil, err
	}
	for _, field := range tables.NoValue {
		rows, err := c.GetMulti(ctx, field+".B")
		if err != nil {
			return nil, err
		}
		state = append(state, field+"<"+string(ctrl.TableOverwriteBase64))
		state = append(state, rows...)
		state = append(state, "")
	}

	metadata, err := c.GetChanges(ctx, ChangesMetadata)
	if err != nil {
		return nil, err
	}
	state = append(state, sortedAssignments(metadata.Values)...)
	for _, field := range metadata.NoValue {
		rows, err := c.GetMulti(ctx, field)
		if err != nil {
			return nil, err
		}
		state = append(state, field+"<")
		state = append(state, rows...)
		state = append(state, "")
	}

	return state, nil
}

// SetState replays command lines produced by GetState. Individual
// rejected lines are logged and skipped so that one stale field (a
// renamed block, a removed attribute) does not abort the whole restore.
// The first transport error still aborts.
func (c *Commands) SetState(ctx context.Context, state []string) error {
	for _, command := range splitStateCommands(state) {
		resp, err := c.exchanger.Exchange(ctx, ctrl.RawLines(command))
		if err != nil {
			return err
		}
		if resp.IsErr() {
			slog.Warn("state line rejected",
				"command", strings.TrimSpace(command[0]),
				"error", resp.Message)
		}
	}
	return nil
}

// splitStateCommands groups state lines into complete commands: one line
// per assignment, and the header plus rows plus blank terminator for
// table writes.
func splitStateCommands(state []string) [][]string {
	var commands [][]string
	for i := 0; i < len(state); i++ {
		line := state[i]
		if line == "" {
			continue
		}
		if !ctrl.IsTableCommand(line) {
			commands = append(commands, []string{line})
			continue
		}
		command := []string{line}
		for i++; i < len(state); i++ {
			command = append(command, state[i])
			if state[i] == "" {
				break
			}
		}
		if command[len(command)-1] != "" {
			command = append(command, "")
		}
		commands = append(commands, command)
	}
	return commands
}

// sortedAssignments renders a value map as deterministic "field=value"
// lines so that two captures of the same state compare equal.
func sortedAssignments(values map[string]string) []string {
	fields := make([]string, 0, len(values))
	for field := range values {
		fields = append(fields, field)
	}
	slices.Sort(fields)

	lines := make([]string, 0, len(fields))
	for _, field := range fields {
		lines = append(lines, field+"="+values[field])
	}
	return lines
}
