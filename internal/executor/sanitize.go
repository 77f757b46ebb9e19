package executor

import (
	"strings"
)

// shellMetacharacters are stripped from commands and arguments.
const shellMetacharacters = ";&|`$(){}[]\\"

// StripMetacharacters removes every shell metacharacter from s.
func StripMetacharacters(s string) string {
	if !strings.ContainsAny(s, shellMetacharacters) {
		return s
	}
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(shellMetacharacters, r) {
			return -1
		}
		return r
	}, s)
}

// splitCommand sanitizes command and returns its first whitespace-delimited
// token plus any remaining tokens.
func splitCommand(command string) (string, []string) {
	fields := strings.Fields(StripMetacharacters(command))
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

// sanitizeArgs strips metacharacters from every argument.
func sanitizeArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = StripMetacharacters(a)
	}
	return out
}
