package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/abiosoft/ishell"
	"github.com/derekparker/trie"
	"github.com/gorilla/websocket"
	"github.com/mitchellh/go-wordwrap"

	"github.com/Merkerhood/paragon/uuid"
	"github.com/Merkerhood/paragon/wsapi"
)

const terminalWidth = 80

// statRef is the trie metadata for one catalogue stat, keyed by its
// lowercased icon name.
type statRef struct {
	categoryID uint32
	stat       wsapi.StatEntry
}

type client struct {
	conn     *websocket.Conn
	snapshot wsapi.CompleteLoad
	statTrie *trie.Trie
	staged   map[uint32]wsapi.ChangeEntry
}

func main() {
	addr := flag.String("addr", "ws://localhost:4011", "Daemon websocket address")
	user := flag.String("user", "demo", "Account username")
	pass := flag.String("pass", "demo", "Account passphrase")
	flag.Parse()

	h := http.Header{}
	userPass := *user + ":" + *pass
	h.Add("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(userPass)))
	conn, res, err := (&websocket.Dialer{}).Dial(*addr, h)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %s\n", *addr, err)
		os.Exit(1)
	}
	if res.StatusCode != http.StatusSwitchingProtocols {
		fmt.Fprintf(os.Stderr, "unexpected status code %d\n", res.StatusCode)
		os.Exit(1)
	}

	c := &client{
		conn:   conn,
		staged: make(map[uint32]wsapi.ChangeEntry),
	}
	if err := c.refresh(); err != nil {
		fmt.Fprintf(os.Stderr, "initial load: %s\n", err)
		os.Exit(1)
	}

	shell := ishell.New()
	shell.Println("connected, type \"help\" for commands")
	shell.AddCmd(&ishell.Cmd{
		Name: "show",
		Help: "display progression and the stat catalogue",
		Func: c.getShowHandler(),
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "invest",
		Help: "<stat> <points> - stage setting a stat's invested points; <stat> is an icon-name prefix or a numeric stat ID",
		Func: c.getInvestHandler(),
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "commit",
		Help: "submit the staged allocations as one batch",
		Func: c.getCommitHandler(),
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "reset",
		Help: "discard the staged allocations",
		Func: c.getResetHandler(),
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "grant",
		Help: "<source> <entryId> - ask the daemon to grant experience (sources: creature, achievement, skill, quest)",
		Func: c.getGrantHandler(),
	})
	shell.Run()
}

func (c *client) roundTrip(msgType string, payload interface{}) (wsapi.Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		var err error
		payloadBytes, err = json.Marshal(payload)
		if err != nil {
			return wsapi.Message{}, fmt.Errorf("json.Marshal(): %w", err)
		}
	}
	msg := wsapi.Message{
		Type:      msgType,
		MessageID: uuid.NewId(),
		Payload:   payloadBytes,
	}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return wsapi.Message{}, fmt.Errorf("json.Marshal(): %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
		return wsapi.Message{}, fmt.Errorf("conn.WriteMessage(): %w", err)
	}

	_, resBytes, err := c.conn.ReadMessage()
	if err != nil {
		return wsapi.Message{}, fmt.Errorf("conn.ReadMessage(): %w", err)
	}
	var res wsapi.Message
	if err := json.Unmarshal(resBytes, &res); err != nil {
		return wsapi.Message{}, fmt.Errorf("json.Unmarshal(): %w", err)
	}
	if res.Type == wsapi.MessageTypeProcessingError {
		var reason string
		_ = json.Unmarshal(res.Payload, &reason)
		return res, fmt.Errorf("daemon: %s", reason)
	}
	return res, nil
}

func (c *client) refresh() error {
	res, err := c.roundTrip(wsapi.MessageTypeLoadCommand, nil)
	if err != nil {
		return err
	}
	return c.applySnapshot(res.Payload)
}

func (c *client) applySnapshot(payload json.RawMessage) error {
	var snap wsapi.CompleteLoad
	if err := json.Unmarshal(payload, &snap); err != nil {
		return fmt.Errorf("json.Unmarshal(): %w", err)
	}
	c.snapshot = snap

	c.statTrie = trie.New()
	for _, cat := range snap.Categories {
		for _, st := range cat.Stats {
			if st.Icon == "" {
				continue
			}
			c.statTrie.Add(strings.ToLower(st.Icon), statRef{categoryID: cat.CategoryID, stat: st})
		}
	}
	return nil
}

// resolveStat accepts an icon-name prefix or a bare numeric stat ID.
func (c *client) resolveStat(term string) (statRef, error) {
	term = strings.ToLower(term)

	if id, err := strconv.ParseUint(term, 10, 32); err == nil {
		for _, cat := range c.snapshot.Categories {
			for _, st := range cat.Stats {
				if st.StatID == uint32(id) {
					return statRef{categoryID: cat.CategoryID, stat: st}, nil
				}
			}
		}
		return statRef{}, fmt.Errorf("no stat with ID %d", id)
	}

	matches := c.statTrie.PrefixSearch(term)
	switch len(matches) {
	case 0:
		return statRef{}, fmt.Errorf("no stat matches %q", term)
	case 1:
		node, _ := c.statTrie.Find(matches[0])
		return node.Meta().(statRef), nil
	default:
		return statRef{}, fmt.Errorf("%q is ambiguous: %s", term, strings.Join(matches, ", "))
	}
}

func (c *client) getShowHandler() func(ctx *ishell.Context) {
	return func(ctx *ishell.Context) {
		snap := c.snapshot
		ctx.Printf("Level %d    XP %d/%d    Points %d\n",
			snap.Level, snap.CurrentExperience, snap.RequiredExperience, snap.Points)

		if len(c.staged) > 0 {
			var parts []string
			for _, ch := range c.sortedStaged() {
				parts = append(parts, fmt.Sprintf("stat %d -> %d", ch.StatID, ch.Value))
			}
			stagedLine := "Staged (uncommitted): " + strings.Join(parts, ", ")
			ctx.Println(wordwrap.WrapString(stagedLine, terminalWidth))
		}

		for _, cat := range snap.Categories {
			ctx.Printf("\n%s:\n", cat.Name)
			for _, st := range cat.Stats {
				limit := "unlimited"
				if st.Limit > 0 {
					limit = strconv.Itoa(st.Limit)
				}
				ctx.Printf("  [%d] %-40s %-15s invested %d/%s (factor %g)\n",
					st.StatID, st.Icon, st.Kind, st.Invested, limit, st.Factor)
			}
		}
	}
}

func (c *client) getInvestHandler() func(ctx *ishell.Context) {
	return func(ctx *ishell.Context) {
		if len(ctx.Args) != 2 {
			ctx.Println("Invalid syntax, need: invest <stat> <points>")
			return
		}
		ref, err := c.resolveStat(ctx.Args[0])
		if err != nil {
			ctx.Printf("%s\n", err)
			return
		}
		value, err := strconv.Atoi(ctx.Args[1])
		if err != nil {
			ctx.Printf("Expected an integer, got %q. Try again?\n", ctx.Args[1])
			return
		}

		c.staged[ref.stat.StatID] = wsapi.ChangeEntry{
			CategoryID: ref.categoryID,
			StatID:     ref.stat.StatID,
			Value:      value,
		}
		ctx.Printf("staged: %s (stat %d) -> %d points\n", ref.stat.Icon, ref.stat.StatID, value)
	}
}

func (c *client) getCommitHandler() func(ctx *ishell.Context) {
	return func(ctx *ishell.Context) {
		if len(c.staged) == 0 {
			ctx.Println("Nothing staged.")
			return
		}

		cmd := wsapi.CommandUpdate{Changes: c.sortedStaged()}
		res, err := c.roundTrip(wsapi.MessageTypeUpdateCommand, cmd)
		if err != nil {
			ctx.Printf("commit failed: %s\n", err)
			// entries ahead of the failing one may have committed; re-pull
			// the authoritative snapshot rather than guess
			if refreshErr := c.refresh(); refreshErr != nil {
				ctx.Printf("refresh failed: %s\n", refreshErr)
			}
			return
		}
		if err := c.applySnapshot(res.Payload); err != nil {
			ctx.Printf("%s\n", err)
			return
		}
		c.staged = make(map[uint32]wsapi.ChangeEntry)
		ctx.Printf("committed, %d points remaining\n", c.snapshot.Points)
	}
}

func (c *client) getResetHandler() func(ctx *ishell.Context) {
	return func(ctx *ishell.Context) {
		c.staged = make(map[uint32]wsapi.ChangeEntry)
		ctx.Println("staged allocations discarded")
	}
}

func (c *client) getGrantHandler() func(ctx *ishell.Context) {
	return func(ctx *ishell.Context) {
		if len(ctx.Args) != 2 {
			ctx.Println("Invalid syntax, need: grant <source> <entryId>")
			return
		}
		entryID, err := strconv.ParseUint(ctx.Args[1], 10, 32)
		if err != nil {
			ctx.Printf("Expected an integer entry ID, got %q. Try again?\n", ctx.Args[1])
			return
		}

		cmd := wsapi.CommandGrant{
			Source:  strings.ToLower(ctx.Args[0]),
			EntryID: uint32(entryID),
		}
		res, err := c.roundTrip(wsapi.MessageTypeGrantCommand, cmd)
		if err != nil {
			ctx.Printf("grant failed: %s\n", err)
			return
		}
		if err := c.applySnapshot(res.Payload); err != nil {
			ctx.Printf("%s\n", err)
			return
		}
		ctx.Printf("granted, now level %d with %d/%d XP and %d points\n",
			c.snapshot.Level, c.snapshot.CurrentExperience, c.snapshot.RequiredExperience, c.snapshot.Points)
	}
}

func (c *client) sortedStaged() []wsapi.ChangeEntry {
	out := make([]wsapi.ChangeEntry, 0, len(c.staged))
	for _, ch := range c.staged {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StatID < out[j].StatID })
	return out
}
