package player

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// ErrUnknownCommand is returned by ParseCommand for unsupported command names.
var ErrUnknownCommand = errors.New("unknown command")

// CommandKind enumerates the abstract commands a controller can be sent.
type CommandKind int

const (
	CmdPlay CommandKind = iota
	CmdPause
	CmdPlayPause
	CmdStop
	CmdNext
	CmdPrevious
	CmdSetLoopMode
	CmdSeek
	CmdSetRandom
	CmdKill
	CmdQueueTracks
	CmdRemoveTrack
	CmdClearQueue
	CmdPlayQueueIndex
)

// Command is one abstract player command. Only the fields that belong to
// Kind are meaningful; use the constructors below.
type Command struct {
	Kind              CommandKind
	LoopMode          LoopMode
	Position          float64
	Enabled           bool
	URIs              []string
	InsertAtBeginning bool
	Metadata          []map[string]string
	Index             int
}

func Play() Command                    { return Command{Kind: CmdPlay} }
func Pause() Command                   { return Command{Kind: CmdPause} }
func PlayPause() Command               { return Command{Kind: CmdPlayPause} }
func Stop() Command                    { return Command{Kind: CmdStop} }
func Next() Command                    { return Command{Kind: CmdNext} }
func Previous() Command                { return Command{Kind: CmdPrevious} }
func SetLoopMode(m LoopMode) Command   { return Command{Kind: CmdSetLoopMode, LoopMode: m} }
func Seek(seconds float64) Command     { return Command{Kind: CmdSeek, Position: seconds} }
func SetRandom(enabled bool) Command   { return Command{Kind: CmdSetRandom, Enabled: enabled} }
func Kill() Command                    { return Command{Kind: CmdKill} }
func RemoveTrack(position int) Command { return Command{Kind: CmdRemoveTrack, Index: position} }
func ClearQueue() Command              { return Command{Kind: CmdClearQueue} }
func PlayQueueIndex(index int) Command { return Command{Kind: CmdPlayQueueIndex, Index: index} }

func QueueTracks(uris []string, atBeginning bool, metadata []map[string]string) Command {
	return Command{Kind: CmdQueueTracks, URIs: uris, InsertAtBeginning: atBeginning, Metadata: metadata}
}

// Name is the command name without arguments, as used on the REST surface.
func (c Command) Name() string {
	switch c.Kind {
	case CmdPlay:
		return "play"
	case CmdPause:
		return "pause"
	case CmdPlayPause:
		return "playpause"
	case CmdStop:
		return "stop"
	case CmdNext:
		return "next"
	case CmdPrevious:
		return "previous"
	case CmdSetLoopMode:
		return "set_loop"
	case CmdSeek:
		return "seek"
	case CmdSetRandom:
		return "set_random"
	case CmdKill:
		return "kill"
	case CmdQueueTracks:
		return "queue_tracks"
	case CmdRemoveTrack:
		return "remove_track"
	case CmdClearQueue:
		return "clear_queue"
	case CmdPlayQueueIndex:
		return "play_queue_index"
	}
	return "unknown"
}

func (c Command) String() string {
	switch c.Kind {
	case CmdSetLoopMode:
		return "set_loop:" + c.LoopMode.String()
	case CmdSeek:
		return "seek:" + strconv.FormatFloat(c.Position, 'f', -1, 64)
	case CmdSetRandom:
		return "set_random:" + lo.Ternary(c.Enabled, "on", "off")
	case CmdQueueTracks:
		return "queue_tracks_" + lo.Ternary(c.InsertAtBeginning, "beginning", "end")
	case CmdRemoveTrack:
		return "remove_track:" + strconv.Itoa(c.Index)
	case CmdPlayQueueIndex:
		return "play_queue_index:" + strconv.Itoa(c.Index)
	}
	return c.Name()
}

// QueueTracksRequest is the JSON body accepted for queue_tracks.
type QueueTracksRequest struct {
	URIs              []string            `json:"uris"`
	InsertAtBeginning bool                `json:"insert_at_beginning"`
	Metadata          []map[string]string `json:"metadata,omitempty"`
}

// ParseCommand builds a Command from a name and its arguments. The name may
// carry its argument inline ("seek:12.5") or in args. args["body"], when
// present, is the raw JSON request body.
func ParseCommand(name string, args map[string]string) (Command, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	arg := ""
	if n, a, ok := strings.Cut(name, ":"); ok {
		name, arg = n, a
	}
	pick := func(keys ...string) string {
		if arg != "" {
			return arg
		}
		for _, k := range keys {
			if v, ok := args[k]; ok && v != "" {
				return v
			}
		}
		return ""
	}

	switch name {
	case "play":
		return Play(), nil
	case "pause":
		return Pause(), nil
	case "playpause", "play_pause", "toggle":
		return PlayPause(), nil
	case "stop":
		return Stop(), nil
	case "next":
		return Next(), nil
	case "previous", "prev":
		return Previous(), nil
	case "kill":
		return Kill(), nil
	case "clear_queue":
		return ClearQueue(), nil
	case "set_loop", "loop":
		m, err := ParseLoopMode(pick("mode", "value"))
		if err != nil {
			return Command{}, err
		}
		return SetLoopMode(m), nil
	case "seek":
		v := pick("position", "value")
		pos, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Command{}, fmt.Errorf("seek: invalid position %q", v)
		}
		return Seek(pos), nil
	case "set_random", "random", "shuffle":
		v := pick("enabled", "value")
		switch strings.ToLower(v) {
		case "on", "true", "1", "yes":
			return SetRandom(true), nil
		case "off", "false", "0", "no":
			return SetRandom(false), nil
		}
		return Command{}, fmt.Errorf("set_random: invalid value %q", v)
	case "remove_track":
		v := pick("position", "index", "value")
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Command{}, fmt.Errorf("remove_track: invalid position %q", v)
		}
		return RemoveTrack(n), nil
	case "play_queue_index":
		v := pick("index", "position", "value")
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Command{}, fmt.Errorf("play_queue_index: invalid index %q", v)
		}
		return PlayQueueIndex(n), nil
	case "queue_tracks":
		var req QueueTracksRequest
		if body := args["body"]; body != "" {
			if err := json.Unmarshal([]byte(body), &req); err != nil {
				return Command{}, fmt.Errorf("queue_tracks: %w", err)
			}
		} else if v := pick("uris", "uri"); v != "" {
			req.URIs = lo.Compact(strings.Split(v, ","))
			req.InsertAtBeginning = args["insert_at_beginning"] == "true"
		}
		if len(req.URIs) == 0 {
			return Command{}, fmt.Errorf("queue_tracks: no uris")
		}
		return QueueTracks(req.URIs, req.InsertAtBeginning, req.Metadata), nil
	}
	return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
}
