package bot

import "strings"

type CommandType string

const (
	CmdNone    CommandType = "none"
	CmdUnknown CommandType = "unknown"
	CmdHej     CommandType = "hej"
	CmdImg     CommandType = "img"
	CmdReload  CommandType = "reload"
)

// Command is a parsed "!" command from a text message.
type Command struct {
	Type     CommandType
	Argument string
}

// maxPromptLength bounds the user text forwarded to the model; anything
// longer is a permanent request failure.
const maxPromptLength = 4000

var commandPrefixes = []struct {
	prefix string
	typ    CommandType
}{
	{"!hej", CmdHej},
	{"!img", CmdImg},
	{"!reload", CmdReload},
}

// ParseCommand matches the command prefix case-insensitively and returns the
// trimmed argument. Non-command text yields CmdNone; a "!" word nobody knows
// yields CmdUnknown and is silently ignored by the caller.
func ParseCommand(text string) Command {
	text = strings.TrimSpace(text)
	if text == "" {
		return Command{Type: CmdNone}
	}
	lower := strings.ToLower(text)
	for _, p := range commandPrefixes {
		if strings.HasPrefix(lower, p.prefix) {
			rest := text[len(p.prefix):]
			// Require a word boundary so "!imgx" is not "!img x".
			if rest != "" && rest[0] != ' ' && rest[0] != '\n' && rest[0] != '\t' {
				continue
			}
			return Command{Type: p.typ, Argument: strings.TrimSpace(rest)}
		}
	}
	if strings.HasPrefix(text, "!") {
		return Command{Type: CmdUnknown}
	}
	return Command{Type: CmdNone}
}
