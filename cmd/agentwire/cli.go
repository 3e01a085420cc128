// Package main defines the CLI structure using kong.
package main

import "fmt"

// CLI defines the command-line interface.
type CLI struct {
	Config string `help:"Config file path" type:"path"`

	Run      RunCmd      `cmd:"" help:"Send a prompt through a session and stream the result"`
	Serve    ServeCmd    `cmd:"" help:"Host the session bridge over the configured transport"`
	Sessions SessionsCmd `cmd:"" help:"Inspect persisted session history"`
	Version  VersionCmd  `cmd:"" help:"Show version information"`
}

// RunCmd sends one prompt through a session and streams items until the
// result arrives.
type RunCmd struct {
	Prompt       []string `arg:"" help:"Prompt to send"`
	Resume       string   `help:"Resume an existing session by id"`
	OutputFormat string   `help:"Output format" enum:",text,structured,quiet" default:""`
	Model        string   `help:"Model override"`
	System       string   `help:"System prompt override"`
}

// ServeCmd hosts the bridge for a consumer in another process. The
// transport section of the config selects stdio or nats.
type ServeCmd struct{}

// SessionsCmd groups history inspection commands.
type SessionsCmd struct {
	List   SessionsListCmd   `cmd:"" help:"List indexed session ids"`
	Search SessionsSearchCmd `cmd:"" help:"Full-text search across session history"`
}

// SessionsListCmd lists session ids present in the search index.
type SessionsListCmd struct{}

// SessionsSearchCmd searches message text across sessions.
type SessionsSearchCmd struct {
	Query   []string `arg:"" help:"Search terms"`
	Session string   `help:"Restrict to one session id"`
	Limit   int      `default:"10" help:"Maximum number of hits"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

// Run prints version information.
func (c *VersionCmd) Run() error {
	fmt.Printf("agentwire version %s (commit: %s, built: %s)\n", version, commit, buildTime)
	return nil
}
