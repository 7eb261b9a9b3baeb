// Package transcript holds the user facing copy for each program the bot can
// serve. Templates use (user) for the asker's display name and {user_id},
// {helper_slack_id}, {help_channel} and {faq_link} as named placeholders.
package transcript

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Transcript is the full set of strings the bot posts.
type Transcript struct {
	ProgramName  string `yaml:"program_name"`
	ProgramOwner string `yaml:"program_owner"`
	FAQLink      string `yaml:"faq_link"`

	FirstTicketCreate     string `yaml:"first_ticket_create"`
	TicketCreate          string `yaml:"ticket_create"`
	ResolveTicketButton   string `yaml:"resolve_ticket_button"`
	TicketResolve         string `yaml:"ticket_resolve"`
	TicketResolveStale    string `yaml:"ticket_resolve_stale"`
	TicketReopen          string `yaml:"ticket_reopen"`
	ThreadBroadcastDelete string `yaml:"thread_broadcast_delete"`
	NotAuthorizedTags     string `yaml:"not_authorized_tags"`

	// Macro templates. An empty template turns the macro into a no-op.
	FAQMacro           string `yaml:"faq_macro"`
	IdentityMacro      string `yaml:"identity_macro"`
	FraudMacro         string `yaml:"fraud_macro"`
	ShipCertQueueMacro string `yaml:"ship_cert_queue_macro"`
	BannedMacro        string `yaml:"banned_macro"`
	HelloMacro         string `yaml:"hello_macro"`
}

// Params carries the values substituted into templates.
type Params struct {
	UserName    string
	UserID      string
	HelperID    string
	HelpChannel string
}

// Render substitutes params into template. The FAQ link always comes from t.
func (t *Transcript) Render(template string, p Params) string {
	return strings.NewReplacer(
		"(user)", p.UserName,
		"{user_id}", p.UserID,
		"{helper_slack_id}", p.HelperID,
		"{help_channel}", p.HelpChannel,
		"{faq_link}", t.FAQLink,
	).Replace(template)
}

// Programs lists the built-in transcript names.
func Programs() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load returns the built-in transcript for program with any fields from the
// YAML file at overridePath layered on top.
func Load(program, overridePath string) (*Transcript, error) {
	base, ok := builtins[program]
	if !ok {
		return nil, fmt.Errorf("unknown program %q (known: %s)", program, strings.Join(Programs(), ", "))
	}
	t := base
	if overridePath == "" {
		return &t, nil
	}

	raw, err := os.ReadFile(overridePath)
	if err != nil {
		return nil, fmt.Errorf("read transcript override: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("parse transcript override %s: %w", overridePath, err)
	}
	return &t, nil
}
