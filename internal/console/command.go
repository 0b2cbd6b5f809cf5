package console

import (
	"strconv"
	"strings"

	"github.com/cohesix/queenroot/internal/kerr"
)

// Verb is a canonical, upper-case command name, used both to dispatch and
// as the ack label in OK/ERR reply lines (spec §4.6).
type Verb string

const (
	VerbHelp     Verb = "HELP"
	VerbBootInfo Verb = "BI"
	VerbCaps     Verb = "CAPS"
	VerbMem      Verb = "MEM"
	VerbPing     Verb = "PING"
	VerbTest     Verb = "TEST"
	VerbNetTest  Verb = "NETTEST"
	VerbNetStats Verb = "NETSTATS"
	VerbQuit     Verb = "QUIT"
	VerbAttach   Verb = "ATTACH"
	VerbTail     Verb = "TAIL"
	VerbCat      Verb = "CAT"
	VerbLs       Verb = "LS"
	VerbLog      Verb = "LOG"
	VerbEcho     Verb = "ECHO"
	VerbSpawn    Verb = "SPAWN"
	VerbKill     Verb = "KILL"
	VerbCacheLog Verb = "CACHELOG"
)

var verbTokens = map[string]Verb{
	"help":     VerbHelp,
	"bi":       VerbBootInfo,
	"caps":     VerbCaps,
	"mem":      VerbMem,
	"ping":     VerbPing,
	"test":     VerbTest,
	"nettest":  VerbNetTest,
	"netstats": VerbNetStats,
	"quit":     VerbQuit,
	"attach":   VerbAttach,
	"tail":     VerbTail,
	"cat":      VerbCat,
	"ls":       VerbLs,
	"log":      VerbLog,
	"echo":     VerbEcho,
	"spawn":    VerbSpawn,
	"kill":     VerbKill,
	"cachelog": VerbCacheLog,
}

// Command is a parsed console request: the matched verb plus whichever of
// its arguments apply.
type Command struct {
	Verb    Verb
	Role    string
	Ticket  string
	Path    string
	Payload string
	ID      string
	Count   int // cachelog's optional count; 0 means "use the default"
}

// ParseCommand splits one input line into a Command, case-folding the
// verb token. Unknown verbs and malformed argument counts report
// kerr.CodeInvalidArgument the way a PARSE-level refusal would.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, kerr.NewError("console.ParseCommand", kerr.CodeInvalidArgument, "empty command line")
	}

	verb, ok := verbTokens[strings.ToLower(fields[0])]
	if !ok {
		return Command{}, kerr.NewError("console.ParseCommand", kerr.CodeInvalidArgument, "unknown verb: "+fields[0])
	}
	rest := fields[1:]

	switch verb {
	case VerbHelp, VerbBootInfo, VerbCaps, VerbMem, VerbPing, VerbTest, VerbNetTest, VerbNetStats, VerbQuit:
		return Command{Verb: verb}, nil

	case VerbAttach:
		if len(rest) < 1 {
			return Command{}, kerr.NewError("console.ParseCommand", kerr.CodeInvalidArgument, "attach requires a role")
		}
		cmd := Command{Verb: verb, Role: rest[0]}
		if len(rest) > 1 {
			cmd.Ticket = rest[1]
		}
		return cmd, nil

	case VerbTail, VerbCat, VerbLs:
		if len(rest) != 1 {
			return Command{}, kerr.NewError("console.ParseCommand", kerr.CodeInvalidArgument, string(verb)+" requires exactly one path")
		}
		return Command{Verb: verb, Path: rest[0]}, nil

	case VerbLog:
		return Command{Verb: verb}, nil

	case VerbEcho:
		if len(rest) < 2 {
			return Command{}, kerr.NewError("console.ParseCommand", kerr.CodeInvalidArgument, "echo requires a path and a payload")
		}
		return Command{Verb: verb, Path: rest[0], Payload: strings.Join(rest[1:], " ")}, nil

	case VerbSpawn:
		if len(rest) < 1 {
			return Command{}, kerr.NewError("console.ParseCommand", kerr.CodeInvalidArgument, "spawn requires a payload")
		}
		return Command{Verb: verb, Payload: strings.Join(rest, " ")}, nil

	case VerbKill:
		if len(rest) != 1 {
			return Command{}, kerr.NewError("console.ParseCommand", kerr.CodeInvalidArgument, "kill requires exactly one id")
		}
		return Command{Verb: verb, ID: rest[0]}, nil

	case VerbCacheLog:
		cmd := Command{Verb: verb}
		if len(rest) > 1 {
			return Command{}, kerr.NewError("console.ParseCommand", kerr.CodeInvalidArgument, "cachelog takes at most one argument")
		}
		if len(rest) == 1 {
			n, err := strconv.Atoi(rest[0])
			if err != nil || n < 0 {
				return Command{}, kerr.NewError("console.ParseCommand", kerr.CodeInvalidArgument, "cachelog count must be a non-negative integer")
			}
			cmd.Count = n
		}
		return cmd, nil
	}

	return Command{}, kerr.NewError("console.ParseCommand", kerr.CodeInvalidArgument, "unhandled verb: "+string(verb))
}
