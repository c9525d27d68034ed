package protocol

import (
	"strconv"
	"sync"
)

// CommandCollection is the table of commands awaiting a response. It lives for one
// connection: once closed it accepts no new commands and is replaced on reconnect.
type CommandCollection struct {
	mu        sync.Mutex
	commands  map[int64]*Command
	accepting bool
}

// NewCommandCollection creates an empty collection that accepts commands.
func NewCommandCollection() *CommandCollection {
	return &CommandCollection{
		commands:  make(map[int64]*Command),
		accepting: true,
	}
}

// Add registers cmd under its id.
func (c *CommandCollection) Add(cmd *Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.accepting {
		return newRouterError(RouterErrorTypeCollectionClosed, "", nil)
	}
	if _, exists := c.commands[cmd.ID()]; exists {
		return newRouterError(RouterErrorTypeDuplicateCommandID, strconv.FormatInt(cmd.ID(), 10), nil)
	}
	c.commands[cmd.ID()] = cmd
	return nil
}

// Remove removes and returns the command registered under id.
func (c *CommandCollection) Remove(id int64) (*Command, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd, ok := c.commands[id]
	if ok {
		delete(c.commands, id)
	}
	return cmd, ok
}

// Close stops the collection from accepting new commands. Existing entries stay.
func (c *CommandCollection) Close() {
	c.mu.Lock()
	c.accepting = false
	c.mu.Unlock()
}

// Clear cancels every pending command and empties the collection. The collection must
// be closed first.
func (c *CommandCollection) Clear() error {
	c.mu.Lock()
	if c.accepting {
		c.mu.Unlock()
		return newRouterError(RouterErrorTypeCollectionOpen, "", nil)
	}
	pending := c.commands
	c.commands = make(map[int64]*Command)
	c.mu.Unlock()

	for _, cmd := range pending {
		cmd.cancel()
	}
	return nil
}

// Len returns the number of pending commands.
func (c *CommandCollection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.commands)
}

// Contains reports whether a command is registered under id.
func (c *CommandCollection) Contains(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.commands[id]
	return ok
}

// IsAccepting reports whether Add is still permitted.
func (c *CommandCollection) IsAccepting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accepting
}
