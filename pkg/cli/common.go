package cli

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

const UsageTemplate = `
Usage:{{if .Runnable}}
{{if .HasAvailableFlags}}{{appendIfNotPresent .UseLine "[flags]"}}{{else}}{{.UseLine}}{{end}}{{end}}{{if .HasAvailableSubCommands}}
{{.CommandPath}} [command]{{end}}{{if gt .Aliases 0}}

Aliases:
{{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}

Available Commands:{{range .Commands}}{{if .IsAvailableCommand}}
{{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasHelpSubCommands}}

Additional help topics:{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
{{rpad .CommandPath .CommandPathPadding}} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`

var versionNameRegexp = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ValidateUUID checks a command-line argument is a well-formed UUID.
func ValidateUUID(arg string) error {
	if _, err := uuid.Parse(arg); err != nil {
		return fmt.Errorf("invalid UUID %q, expected format xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx", arg)
	}
	return nil
}

// ValidateVersionName checks a version name argument. Version names are
// plain strings, not UUIDs; only alphanumerics, dots, dashes and
// underscores are allowed.
func ValidateVersionName(name string) error {
	if !versionNameRegexp.MatchString(name) {
		return fmt.Errorf("invalid version name %q, only alphanumerics, dots, dashes and underscores are allowed", name)
	}
	return nil
}
